package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

func sampleResults() []core.OrchestratorResult {
	ts := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	return []core.OrchestratorResult{
		{
			Result: core.CheckResult{
				Domain:     "example.de",
				Status:     core.AvailabilityAvailable,
				Confidence: core.ConfidenceHigh,
				Timestamp:  ts,
				Sources: []core.SourceResult{
					{Source: core.SourcePrimaryRDAP, Status: core.StatusNotFound, HTTPStatusCode: 404},
					{Source: core.SourceSecondaryRDAP, Status: core.StatusNotFound, HTTPStatusCode: 404},
				},
			},
			NotificationSent: true,
		},
		{
			Result: core.CheckResult{
				Domain:     "pipe|name.com",
				Status:     core.AvailabilityTaken,
				Confidence: core.ConfidenceLow,
				Timestamp:  ts,
				Sources: []core.SourceResult{
					{Source: core.SourcePrimaryRDAP, Status: core.StatusError, Error: &core.SourceError{Code: core.ErrorTimeout, Message: "timed out"}},
				},
				Metadata: core.CheckMetadata{RetryCount: 3},
			},
			Errors: []string{"Primary RDAP error: timed out"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestJSONFormatter(t *testing.T) {
	results := sampleResults()

	single, err := NewFormatter(FormatJSON, nil).FormatResults(results[:1])
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(single, "{"))
	require.Contains(t, single, "\"domain\": \"example.de\"")
	require.Contains(t, single, "\"status\": \"available\"")
	require.Contains(t, single, "\"notification_sent\": true")

	many, err := NewFormatter(FormatJSON, nil).FormatResults(results)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(many, "["))
	require.Contains(t, many, "\"source\": \"primary_rdap\"")

	empty, err := NewFormatter(FormatJSON, nil).FormatResults(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", empty)
}

func TestTableFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatTable, i18n.New("en")).FormatResults(sampleResults())
	require.NoError(t, err)
	require.Contains(t, rendered, "DOMAIN")
	require.Contains(t, rendered, "example.de")
	require.Contains(t, rendered, "Available")
	require.Contains(t, rendered, "rdap=not_found (404), rdap2=not_found (404)")
	require.Contains(t, rendered, "notified")
	require.Contains(t, rendered, "retries: 3")
	require.Contains(t, rendered, "1/2 available")

	german, err := NewFormatter(FormatTable, i18n.New("de")).FormatResults(sampleResults()[:1])
	require.NoError(t, err)
	require.Contains(t, german, "Verfügbar")
	require.Contains(t, german, "Hoch")
}

func TestMarkdownFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown, i18n.New("en")).FormatResults(sampleResults())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "## "))
	require.Contains(t, rendered, "| Domain | Status | Confidence | Sources | Notes |")
	require.Contains(t, rendered, "pipe\\|name.com")
	require.Contains(t, rendered, "Primary RDAP error: timed out")
	require.Contains(t, rendered, "**Summary**: 1/2 available")
}

func TestEmptyResults(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatMarkdown} {
		rendered, err := NewFormatter(format, nil).FormatResults(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)
	}
}
