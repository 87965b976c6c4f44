package core

import (
	"strings"
	"time"
)

// MaxHistoryEntries caps the per-domain check history.
const MaxHistoryEntries = 100

// HistoryEntry is one past verdict for a domain.
type HistoryEntry struct {
	Timestamp  time.Time    `json:"timestamp"`
	Status     Availability `json:"status"`
	Confidence Confidence   `json:"confidence"`
	Sources    []Source     `json:"sources,omitempty"`
}

// DomainState is the persisted view of a domain across checks.
type DomainState struct {
	Domain       string         `json:"canonical_domain"`
	LastStatus   Availability   `json:"last_status"`
	LastChecked  time.Time      `json:"last_checked"`
	LastNotified *time.Time     `json:"last_notified,omitempty"`
	History      []HistoryEntry `json:"check_history"`
}

// NextDomainState returns the state that results from applying result to
// previous. previous is not modified.
func NextDomainState(previous *DomainState, result CheckResult) DomainState {
	next := DomainState{Domain: strings.ToLower(result.Domain)}
	if previous != nil {
		next.LastNotified = previous.LastNotified
		next.History = append(next.History, previous.History...)
	}
	sources := make([]Source, 0, len(result.Sources))
	for _, src := range result.Sources {
		sources = append(sources, src.Source)
	}
	next.LastStatus = result.Status
	next.LastChecked = result.Timestamp
	next.History = append(next.History, HistoryEntry{
		Timestamp:  result.Timestamp,
		Status:     result.Status,
		Confidence: result.Confidence,
		Sources:    sources,
	})
	if overflow := len(next.History) - MaxHistoryEntries; overflow > 0 {
		next.History = append([]HistoryEntry(nil), next.History[overflow:]...)
	}
	return next
}
