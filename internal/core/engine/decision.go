package engine

import (
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// Evaluate returns the availability verdict for the collected source results.
// A domain is only AVAILABLE when the primary registry reports no record and
// an independent source confirms it; every other combination is TAKEN.
func Evaluate(primary, secondary, whois *core.SourceResult) core.Availability {
	if primary == nil {
		return core.AvailabilityTaken
	}

	switch primary.Status {
	case core.StatusNotFound:
		return evaluateConfirmation(secondary, whois)
	case core.StatusFound, core.StatusError, core.StatusAmbiguous:
		return core.AvailabilityTaken
	default:
		return core.AvailabilityTaken
	}
}

func evaluateConfirmation(secondary, whois *core.SourceResult) core.Availability {
	if secondary == nil {
		return evaluateWhois(whois)
	}

	switch secondary.Status {
	case core.StatusNotFound:
		return core.AvailabilityAvailable
	case core.StatusError:
		return evaluateWhois(whois)
	case core.StatusFound, core.StatusAmbiguous:
		return core.AvailabilityTaken
	default:
		return core.AvailabilityTaken
	}
}

func evaluateWhois(whois *core.SourceResult) core.Availability {
	if whois == nil {
		return core.AvailabilityTaken
	}

	switch whois.Status {
	case core.StatusNotFound:
		return core.AvailabilityAvailable
	case core.StatusFound, core.StatusAmbiguous, core.StatusError:
		return core.AvailabilityTaken
	default:
		return core.AvailabilityTaken
	}
}

// DetermineConfidence reports HIGH for any TAKEN verdict and for verdicts
// backed by at least two independent NOT_FOUND answers.
func DetermineConfidence(status core.Availability, primary, secondary, whois *core.SourceResult) core.Confidence {
	switch status {
	case core.AvailabilityTaken:
		return core.ConfidenceHigh
	case core.AvailabilityUnknown:
		return core.ConfidenceLow
	}

	confirming := 0
	for _, result := range []*core.SourceResult{primary, secondary, whois} {
		if result != nil && result.Status == core.StatusNotFound {
			confirming++
		}
	}
	if confirming >= 2 {
		return core.ConfidenceHigh
	}
	return core.ConfidenceLow
}

// SourcesDisagree is true when both results are error-free and exactly one
// of them reports the domain as registered.
func SourcesDisagree(primary, secondary *core.SourceResult) bool {
	if primary == nil || secondary == nil {
		return false
	}
	if primary.HasError() || secondary.HasError() {
		return false
	}
	return (primary.Status == core.StatusFound && secondary.Status == core.StatusNotFound) ||
		(primary.Status == core.StatusNotFound && secondary.Status == core.StatusFound)
}

// HasAnyError reports whether any present result carries an error.
func HasAnyError(results ...*core.SourceResult) bool {
	for _, result := range results {
		if result.HasError() || (result != nil && result.Status == core.StatusError) {
			return true
		}
	}
	return false
}

// BuildCheckResult assembles the immutable result for a check. Sources are
// ordered primary, secondary, whois; absent sources are omitted.
func BuildCheckResult(domain string, primary, secondary, whois *core.SourceResult, metadata core.CheckMetadata, at time.Time) core.CheckResult {
	status := Evaluate(primary, secondary, whois)

	sources := make([]core.SourceResult, 0, 3)
	for _, result := range []*core.SourceResult{primary, secondary, whois} {
		if result != nil {
			sources = append(sources, cloneSourceResult(*result))
		}
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	return core.CheckResult{
		Domain:     domain,
		Status:     status,
		Confidence: DetermineConfidence(status, primary, secondary, whois),
		Sources:    sources,
		Timestamp:  at,
		Metadata:   metadata,
	}
}

// TakenResult builds the conservative verdict used when no source could be
// queried at all.
func TakenResult(domain string, metadata core.CheckMetadata, at time.Time) core.CheckResult {
	return BuildCheckResult(domain, nil, nil, nil, metadata, at)
}

func cloneSourceResult(result core.SourceResult) core.SourceResult {
	if result.Error != nil {
		errCopy := *result.Error
		result.Error = &errCopy
	}
	if result.Details != nil {
		details := make(map[string]any, len(result.Details))
		for k, v := range result.Details {
			details[k] = v
		}
		result.Details = details
	}
	return result
}
