package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TLDConfig describes the registries serving one TLD.
type TLDConfig struct {
	TLD                   string `mapstructure:"tld" yaml:"tld" json:"tld"`
	RDAPEndpoint          string `mapstructure:"rdap_endpoint" yaml:"rdap_endpoint" json:"rdap_endpoint"`
	SecondaryRDAPEndpoint string `mapstructure:"secondary_rdap_endpoint" yaml:"secondary_rdap_endpoint,omitempty" json:"secondary_rdap_endpoint,omitempty"`
	WhoisServer           string `mapstructure:"whois_server" yaml:"whois_server,omitempty" json:"whois_server,omitempty"`
	WhoisEnabled          bool   `mapstructure:"whois_enabled" yaml:"whois_enabled" json:"whois_enabled"`
}

// Validate rejects configurations the pipeline must never use, such as
// plain-HTTP registries.
func (c TLDConfig) Validate() error {
	if strings.TrimSpace(c.TLD) == "" {
		return errors.New("tld is required")
	}
	if err := RequireHTTPS(c.RDAPEndpoint); err != nil {
		return fmt.Errorf("rdap_endpoint: %w", err)
	}
	if strings.TrimSpace(c.SecondaryRDAPEndpoint) != "" {
		if err := RequireHTTPS(c.SecondaryRDAPEndpoint); err != nil {
			return fmt.Errorf("secondary_rdap_endpoint: %w", err)
		}
	}
	return nil
}

// RequireHTTPS returns an error unless endpoint is an absolute https URL.
func RequireHTTPS(endpoint string) error {
	value := strings.TrimSpace(endpoint)
	if value == "" {
		return errors.New("endpoint is empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("endpoint %s must use https", value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint %s has no host", value)
	}
	return nil
}

// BootstrapSnapshot is one refresh of the IANA RDAP bootstrap registry.
// Servers maps a TLD to its HTTPS RDAP base URLs.
type BootstrapSnapshot struct {
	Version     string
	Publication string
	Source      string
	FetchedAt   time.Time
	Servers     map[string][]string
}

// BootstrapInfo describes the cached bootstrap registry.
type BootstrapInfo struct {
	TLDCount    int
	Version     string
	Publication string
	Source      string
	FetchedAt   time.Time
}
