package output

import (
	"fmt"
	"strings"

	"github.com/namelens/domaincheck/internal/core"
)

func formatSources(result core.CheckResult) string {
	if len(result.Sources) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(result.Sources))
	for _, src := range result.Sources {
		part := fmt.Sprintf("%s=%s", sourceLabel(src.Source), src.Status)
		if src.HTTPStatusCode > 0 {
			part += fmt.Sprintf(" (%d)", src.HTTPStatusCode)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func sourceLabel(source core.Source) string {
	switch source {
	case core.SourcePrimaryRDAP:
		return "rdap"
	case core.SourceSecondaryRDAP:
		return "rdap2"
	default:
		return source.String()
	}
}

func formatNotes(result core.OrchestratorResult) string {
	var notes []string
	if result.NotificationSent {
		notes = append(notes, "notified")
	}
	meta := result.Result.Metadata
	if meta.RetryCount > 0 {
		notes = append(notes, fmt.Sprintf("retries: %d", meta.RetryCount))
	}
	if meta.RateLimitDelays > 0 {
		notes = append(notes, fmt.Sprintf("rate limited: %d", meta.RateLimitDelays))
	}
	notes = append(notes, result.Errors...)
	if len(notes) == 0 {
		return ""
	}
	return strings.Join(notes, "; ")
}
