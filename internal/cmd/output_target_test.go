package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/output"
)

func reportCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "check"}
	c.Flags().String("out", "", "")
	c.Flags().String("out-dir", "", "")
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestReportPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		args    []string
		format  output.Format
		domains []string
		want    string
	}{
		{"stdout", nil, output.FormatTable, []string{"example.com"}, ""},
		{"explicit file", []string{"--out", "report.json"}, output.FormatJSON, []string{"example.com"}, "report.json"},
		{"single domain in dir", []string{"--out-dir", dir}, output.FormatJSON, []string{"Example.DE"}, filepath.Join(dir, "example.de.json")},
		{"list in dir", []string{"--out-dir", dir}, output.FormatMarkdown, []string{"a.com", "b.com"}, filepath.Join(dir, "check-list.md")},
		{"unicode label", []string{"--out-dir", dir}, output.FormatTable, []string{"bücher.de"}, filepath.Join(dir, "b-cher.de.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reportPath(reportCommand(t, tt.args...), tt.format, tt.domains, "check-list")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReportPathRejectsBothTargets(t *testing.T) {
	_, err := reportPath(reportCommand(t, "--out", "a.json", "--out-dir", "reports"), output.FormatJSON, []string{"example.com"}, "check")
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestReportFileNameFallsBack(t *testing.T) {
	assert.Equal(t, "results", reportFileName(" ..// "))
	assert.Equal(t, "example.com", reportFileName("EXAMPLE.com"))
}

func TestWriteReportStdout(t *testing.T) {
	var buf bytes.Buffer
	written, err := writeReport(&buf, "-", "example.com  AVAILABLE")
	require.NoError(t, err)
	assert.Equal(t, "-", written)
	assert.Equal(t, "example.com  AVAILABLE\n", buf.String())
}

func TestWriteReportReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "example.com.json")

	written, err := writeReport(nil, path, `{"status":"taken"}`)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	_, err = writeReport(nil, path, `{"status":"available"}`)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"status\":\"available\"}\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}
