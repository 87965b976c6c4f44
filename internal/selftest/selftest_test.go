package selftest

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Persistence.HMACSecret = "secret"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	r := &Runner{
		Config: validConfig(),
		TLDs: []core.TLDConfig{
			{TLD: "de", RDAPEndpoint: "https://rdap.denic.de", SecondaryRDAPEndpoint: "https://rdap.example.net", WhoisEnabled: true, WhoisServer: "whois.denic.de"},
			{TLD: "com", RDAPEndpoint: "https://rdap.verisign.com/com/v1"},
		},
	}

	v := r.ValidateConfig()
	assert.True(t, v.Valid, v.Errors)
	assert.Contains(t, v.Warnings, "TLD 'com': No secondary RDAP endpoint configured")
}

func TestValidateConfigErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Persistence.HMACSecret = ""
	cfg.Retry.MaxRetries = 0

	r := &Runner{
		Config: cfg,
		TLDs: []core.TLDConfig{
			{TLD: "example", RDAPEndpoint: "http://rdap.example"},
			{TLD: "zz", RDAPEndpoint: "https://rdap.zz", WhoisEnabled: true},
		},
	}

	v := r.ValidateConfig()
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 3)
	assert.Contains(t, v.Errors[0], "hmac_secret")
	assert.Contains(t, v.Errors[1], "TLD 'example'")
	assert.Equal(t, "TLD 'zz': WHOIS enabled but no server configured", v.Errors[2])
	assert.Contains(t, v.Warnings, "max_retries is less than 1 - no retries will be performed")
}

func TestValidateConfigWithoutTLDs(t *testing.T) {
	v := (&Runner{}).ValidateConfig()
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"No TLDs configured"}, v.Errors)
}

func TestRunChecksEndpoints(t *testing.T) {
	healthy := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	broken := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close() // nolint:errcheck // test cleanup
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)

	r := &Runner{
		Config:     validConfig(),
		HTTPClient: healthy.Client(),
		WhoisPort:  port,
		Timeout:    2 * time.Second,
		TLDs: []core.TLDConfig{
			{TLD: "de", RDAPEndpoint: healthy.URL, SecondaryRDAPEndpoint: broken.URL, WhoisEnabled: true, WhoisServer: "127.0.0.1"},
		},
	}

	report := r.Run(context.Background())
	require.Len(t, report.Endpoints, 3)

	assert.Equal(t, KindPrimaryRDAP, report.Endpoints[0].Kind)
	assert.True(t, report.Endpoints[0].Success)
	assert.Equal(t, http.StatusNotFound, report.Endpoints[0].HTTPStatusCode)

	assert.Equal(t, KindSecondaryRDAP, report.Endpoints[1].Kind)
	assert.False(t, report.Endpoints[1].Success)
	assert.Equal(t, "Server error: 502", report.Endpoints[1].Error)

	assert.Equal(t, KindWhois, report.Endpoints[2].Kind)
	assert.True(t, report.Endpoints[2].Success)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", port), report.Endpoints[2].Endpoint)

	assert.False(t, report.Success)
	assert.Len(t, report.Failed(), 1)
}

func TestEndpointCheckRejectsPlainHTTP(t *testing.T) {
	r := &Runner{TLDs: []core.TLDConfig{{TLD: "de", RDAPEndpoint: "http://rdap.denic.de"}}}
	report := r.Run(context.Background())
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, "Endpoint does not use HTTPS", report.Endpoints[0].Error)
}

func TestSkipConnectivity(t *testing.T) {
	r := &Runner{
		Config:           validConfig(),
		SkipConnectivity: true,
		TLDs:             []core.TLDConfig{{TLD: "de", RDAPEndpoint: "https://rdap.denic.de"}},
	}
	report := r.Run(context.Background())
	assert.Empty(t, report.Endpoints)
	assert.True(t, report.Success)
}

func TestPrintLocalized(t *testing.T) {
	report := Report{
		Success: false,
		Config:  ConfigValidation{Valid: true, Warnings: []string{"No global rate limit configured"}},
		Endpoints: []EndpointResult{
			{TLD: "de", Kind: KindWhois, Endpoint: "whois.denic.de:43", Error: "Connection timed out after 10s"},
		},
	}

	var buf bytes.Buffer
	Print(&buf, report, i18n.New("en"))
	out := buf.String()
	assert.Contains(t, out, "Domain Checker Self-Test")
	assert.Contains(t, out, "✓ Configuration is valid")
	assert.Contains(t, out, "- No global rate limit configured")
	assert.Contains(t, out, "✗ [de] whois: whois.denic.de:43")
	assert.Contains(t, out, "✗ Self-test failed")

	buf.Reset()
	Print(&buf, Report{Success: true, Config: ConfigValidation{Valid: true}}, i18n.New("de"))
	assert.Contains(t, buf.String(), "Selbsttest erfolgreich abgeschlossen")
}
