package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/namelens/domaincheck/internal/output"
)

var reportExtensions = map[output.Format]string{
	output.FormatJSON:     "json",
	output.FormatMarkdown: "md",
	output.FormatTable:    "txt",
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// reportPath resolves --out and --out-dir. With --out-dir a single domain is
// written to <domain>.<ext> and anything else to <label>.<ext>. An empty
// result means stdout.
func reportPath(cmd *cobra.Command, format output.Format, domains []string, label string) (string, error) {
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", err
	}
	dir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return "", err
	}
	out, dir = strings.TrimSpace(out), strings.TrimSpace(dir)

	switch {
	case out != "" && dir != "":
		return "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	case dir == "":
		return out, nil
	}

	name := label
	if len(domains) == 1 {
		name = domains[0]
	}
	ext, ok := reportExtensions[format]
	if !ok {
		ext = "txt"
	}
	return filepath.Join(dir, reportFileName(name)+"."+ext), nil
}

// reportFileName lowercases a domain or label into a safe file stem.
func reportFileName(value string) string {
	clean := unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "results"
	}
	return clean
}

// writeReport writes rendered to stdout when path is empty or "-". A file is
// written next to its destination and renamed into place, so an interrupted
// run leaves the previous report intact. It returns the absolute path
// written, or "-".
func writeReport(stdout io.Writer, path, rendered string) (string, error) {
	if rendered != "" && !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}

	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		_, err := io.WriteString(stdout, rendered)
		return "-", err
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	dir := filepath.Dir(path)
	// #nosec G301 -- report directories are user-facing output locations
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.WriteString(tmp, rendered); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write report: %w", err)
	}
	// #nosec G302 -- reports are meant to be shared
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("replace report: %w", err)
	}
	return path, nil
}
