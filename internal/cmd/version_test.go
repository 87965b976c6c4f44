package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/namelens/domaincheck/internal/config"
)

func TestCollectVersionDetails(t *testing.T) {
	SetVersionInfo("0.4.0", "abc1234", "2026-10-01")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	cfg := config.Defaults()
	cfg.System.SimulationMode = true
	d := collectVersionDetails(cfg)

	assert.Equal(t, "0.4.0", d.Version)
	assert.Equal(t, "abc1234", d.Commit)
	assert.Greater(t, d.BuiltinTLDs, 0)
	assert.Equal(t, cfg.Persistence.Backend, d.Persistence)
	assert.True(t, d.Simulation)
	assert.NotEmpty(t, d.Config)

	var out bytes.Buffer
	printVersionDetails(&out, d)
	assert.Contains(t, out.String(), "domaincheck 0.4.0")
	assert.Contains(t, out.String(), "Simulation: enabled")
}

func TestVersionDetailsWithoutConfig(t *testing.T) {
	d := collectVersionDetails(nil)
	assert.Empty(t, d.Config)

	var out bytes.Buffer
	printVersionDetails(&out, d)
	assert.NotContains(t, out.String(), "Persistence:")
}
