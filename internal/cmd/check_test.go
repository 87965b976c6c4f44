package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
)

func TestParseDomains(t *testing.T) {
	input := `# watch list
example.de
Example.DE
  beispiel.com   # client project

# trailing comment only
shop.io
`
	domains, err := parseDomains(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"example.de", "beispiel.com", "shop.io"}, domains)
}

func TestParseDomainsEmpty(t *testing.T) {
	_, err := parseDomains(strings.NewReader("# nothing\n\n"))
	require.Error(t, err)
}

func TestFlagOverrides(t *testing.T) {
	t.Cleanup(func() {
		language = ""
		simulation = false
	})

	language, simulation = "", false
	assert.Nil(t, flagOverrides())

	language, simulation = "en", true
	assert.Equal(t, map[string]any{
		"system": map[string]any{"language": "en", "simulation_mode": true},
	}, flagOverrides())
}

func TestFilterAvailable(t *testing.T) {
	results := []core.OrchestratorResult{
		{Result: core.CheckResult{Domain: "a.de", Status: core.AvailabilityAvailable}},
		{Result: core.CheckResult{Domain: "b.de", Status: core.AvailabilityTaken}},
		{Result: core.CheckResult{Domain: "c.de", Status: core.AvailabilityUnknown}},
	}
	filtered := filterAvailable(results)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a.de", filtered[0].Result.Domain)
}

func TestStarterConfig(t *testing.T) {
	data, err := starterConfig()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# domaincheck configuration"))

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Len(t, cfg.Persistence.HMACSecret, 64)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, config.BackendFile, cfg.Persistence.Backend)

	again, err := starterConfig()
	require.NoError(t, err)
	assert.NotEqual(t, string(data), string(again), "each init generates a new secret")
}

func TestDescribeRule(t *testing.T) {
	limiter := engine.NewRateLimiter(core.RateLimitConfig{})
	rule := core.RateLimitRule{MaxRequests: 10, Window: time.Minute, MinDelay: 2 * time.Second}
	assert.Equal(t, "10 requests / 1m0s, min delay 2s", describeRule(limiter, rule))

	limiter.ApplySafetyMargin(0.5)
	assert.Equal(t, "5 requests / 1m0s (configured 10), min delay 2s", describeRule(limiter, rule))
}

func TestNeedsStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.TLDs.BootstrapFallback = false
	assert.False(t, needsStore(cfg))

	cfg.Persistence.Backend = config.BackendLibSQL
	assert.True(t, needsStore(cfg))

	cfg.Persistence.Backend = config.BackendFile
	cfg.Audit.Persist = true
	assert.True(t, needsStore(cfg))
}
