package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RegistryKey identifies a rate-limit and serialization domain.
type RegistryKey struct {
	TLD      string
	Endpoint string
}

// NewRegistryKey normalizes the TLD and endpoint into a key.
func NewRegistryKey(tld, endpoint string) RegistryKey {
	return RegistryKey{
		TLD:      strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), ".")),
		Endpoint: strings.TrimSpace(endpoint),
	}
}

func (k RegistryKey) String() string {
	return k.TLD + ":" + k.Endpoint
}

// RateLimitRule bounds a sliding window of request timestamps.
type RateLimitRule struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	MinDelay    time.Duration `mapstructure:"min_delay" yaml:"min_delay" json:"min_delay"`
}

// Validate checks the rule invariants.
func (r RateLimitRule) Validate() error {
	if r.MaxRequests < 1 {
		return fmt.Errorf("max_requests must be >= 1, got %d", r.MaxRequests)
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %s", r.Window)
	}
	if r.MinDelay < 0 {
		return fmt.Errorf("min_delay must be >= 0, got %s", r.MinDelay)
	}
	return nil
}

// RateLimitConfig holds every scope the limiter evaluates.
type RateLimitConfig struct {
	PerTLD      map[string]RateLimitRule `mapstructure:"per_tld" yaml:"per_tld" json:"per_tld,omitempty"`
	PerEndpoint map[string]RateLimitRule `mapstructure:"per_endpoint" yaml:"per_endpoint" json:"per_endpoint,omitempty"`
	Global      *RateLimitRule           `mapstructure:"global" yaml:"global" json:"global,omitempty"`
	PerIdentity *RateLimitRule           `mapstructure:"per_identity" yaml:"per_identity" json:"per_identity,omitempty"`
}

// Validate checks every configured rule.
func (c RateLimitConfig) Validate() error {
	var errs []error
	for tld, rule := range c.PerTLD {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("per_tld[%s]: %w", tld, err))
		}
	}
	for endpoint, rule := range c.PerEndpoint {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("per_endpoint[%s]: %w", endpoint, err))
		}
	}
	if c.Global != nil {
		if err := c.Global.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("global: %w", err))
		}
	}
	if c.PerIdentity != nil {
		if err := c.PerIdentity.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("per_identity: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RateDecision is the limiter's advice for one acquisition.
type RateDecision struct {
	Allowed bool
	Wait    time.Duration
	Reason  string
}
