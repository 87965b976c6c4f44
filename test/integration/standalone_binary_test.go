package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

// buildBinary compiles cmd/domaincheck and copies it into an empty
// directory so nothing from the repository is reachable at runtime.
func buildBinary(t *testing.T) (binary, workdir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary test is unix-focused")
	}
	if testing.Short() {
		t.Skip("builds the binary")
	}

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	repoRoot := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	built := filepath.Join(t.TempDir(), "domaincheck")
	build := exec.Command("go", "build", "-o", built, "./cmd/domaincheck")
	build.Dir = repoRoot
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)

	workdir = t.TempDir()
	binary = filepath.Join(workdir, "domaincheck")
	data, err := os.ReadFile(built)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(binary, data, 0o755))
	return binary, workdir
}

// isolatedEnv points every XDG location at temp directories and turns on
// simulation so no registry is contacted.
func isolatedEnv(t *testing.T) []string {
	home := t.TempDir()
	return append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		"XDG_DATA_HOME="+filepath.Join(home, ".local", "share"),
		"DOMAINCHECK_SIMULATION_MODE=true",
		"DOMAINCHECK_HMAC_SECRET=standalone-test-secret",
	)
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	binary, workdir := buildBinary(t)
	env := isolatedEnv(t)

	run := func(args ...string) string {
		t.Helper()
		c := exec.Command(binary, args...)
		c.Dir = workdir
		c.Env = env
		out, err := c.Output()
		require.NoError(t, err, "%s %v", binary, args)
		return string(out)
	}

	assert.Contains(t, run("version"), "domaincheck")
	assert.Contains(t, run("--help"), "check")

	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(run("version", "--json")), &details))
	assert.Greater(t, details["builtin_tlds"], float64(0), "embedded TLD registry must load without repo files")

	var result core.OrchestratorResult
	require.NoError(t, json.Unmarshal([]byte(run("check", "available-standalone.com", "--output", "json")), &result))
	assert.Equal(t, "available-standalone.com", result.Result.Domain)
	assert.Equal(t, core.AvailabilityAvailable, result.Result.Status)
}
