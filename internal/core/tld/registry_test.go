package tld

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

type fakeFallback struct {
	calls   []string
	configs map[string]core.TLDConfig
}

func (f *fakeFallback) Resolve(ctx context.Context, tld string) (core.TLDConfig, bool) {
	f.calls = append(f.calls, tld)
	cfg, ok := f.configs[tld]
	return cfg, ok
}

func TestBuiltinRegistry(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(reg.TLDs()), 100)
	assert.Empty(t, reg.Validate())

	de, ok := reg.Lookup("DE")
	require.True(t, ok)
	assert.Equal(t, "https://rdap.denic.de", de.RDAPEndpoint)
	assert.Equal(t, "whois.denic.de", de.WhoisServer)
	assert.True(t, de.WhoisEnabled)

	com, ok := reg.Lookup(".com")
	require.True(t, ok)
	assert.Equal(t, "https://rdap.verisign.com/com/v1", com.RDAPEndpoint)

	_, ok = reg.Lookup("invalid-tld")
	assert.False(t, ok)
}

func TestNewFromEntriesRejectsDuplicates(t *testing.T) {
	_, err := NewFromEntries([]Entry{
		{TLDConfig: core.TLDConfig{TLD: "de", RDAPEndpoint: "https://a.example"}},
		{TLDConfig: core.TLDConfig{TLD: "DE", RDAPEndpoint: "https://b.example"}},
	})
	require.ErrorContains(t, err, "duplicate tld entry: de")
}

func TestOverrideReplacesEntry(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	require.NoError(t, reg.Override(core.TLDConfig{
		TLD:                   "de",
		RDAPEndpoint:          "https://rdap.mirror.example/domain/",
		SecondaryRDAPEndpoint: "https://rdap.denic.de/",
	}))

	de, ok := reg.Lookup("de")
	require.True(t, ok)
	assert.Equal(t, "https://rdap.mirror.example", de.RDAPEndpoint)
	assert.Equal(t, "https://rdap.denic.de", de.SecondaryRDAPEndpoint)
	assert.False(t, de.WhoisEnabled)
	assert.Equal(t, "europe", reg.Entries("de")[0].Group)
}

func TestLoadOverrideFile(t *testing.T) {
	reg, err := NewFromEntries(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tlds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tlds:
  - tld: test
    rdap_endpoint: http://rdap.test.example
    whois_enabled: false
`), 0o600))

	require.NoError(t, reg.LoadOverrideFile(path))
	cfg, ok := reg.Lookup("test")
	require.True(t, ok)
	assert.Equal(t, "http://rdap.test.example", cfg.RDAPEndpoint)

	errs := reg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "tld test")

	require.Error(t, reg.LoadOverrideFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, reg.LoadOverrideFile(""))
}

func TestLookupFallback(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	fallback := &fakeFallback{configs: map[string]core.TLDConfig{
		"example": {TLD: "example", RDAPEndpoint: "https://rdap.example"},
	}}
	reg.SetFallback(fallback)

	cfg, ok := reg.Lookup(".EXAMPLE")
	require.True(t, ok)
	assert.Equal(t, "https://rdap.example", cfg.RDAPEndpoint)

	_, ok = reg.Lookup("de")
	require.True(t, ok)
	assert.Equal(t, []string{"example"}, fallback.calls)
}

func TestEntriesFilter(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	entries := reg.Entries("com", "de", "nope")
	require.Len(t, entries, 2)
	assert.Equal(t, "com", entries[0].TLD)
	assert.Equal(t, "de", entries[1].TLD)
}
