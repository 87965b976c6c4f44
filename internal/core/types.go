package core

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies which protocol query produced a result.
type Source int

const (
	SourcePrimaryRDAP Source = iota
	SourceSecondaryRDAP
	SourceWhois
)

func (s Source) String() string {
	switch s {
	case SourcePrimaryRDAP:
		return "primary_rdap"
	case SourceSecondaryRDAP:
		return "secondary_rdap"
	case SourceWhois:
		return "whois"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText encodes the source as its wire name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name into a source.
func (s *Source) UnmarshalText(text []byte) error {
	switch strings.TrimSpace(string(text)) {
	case "primary_rdap":
		*s = SourcePrimaryRDAP
	case "secondary_rdap":
		*s = SourceSecondaryRDAP
	case "whois":
		*s = SourceWhois
	default:
		return fmt.Errorf("unknown source %q", string(text))
	}
	return nil
}

// SourceStatus is the outcome reported by a single source.
type SourceStatus int

const (
	StatusError SourceStatus = iota
	StatusFound
	StatusNotFound
	// StatusAmbiguous is only produced by WHOIS.
	StatusAmbiguous
)

func (s SourceStatus) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusAmbiguous:
		return "ambiguous"
	default:
		return "error"
	}
}

// MarshalText encodes the status as its wire name.
func (s SourceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name into a status.
func (s *SourceStatus) UnmarshalText(text []byte) error {
	switch strings.TrimSpace(string(text)) {
	case "found":
		*s = StatusFound
	case "not_found":
		*s = StatusNotFound
	case "ambiguous":
		*s = StatusAmbiguous
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown source status %q", string(text))
	}
	return nil
}

// ErrorCode classifies source query failures.
type ErrorCode string

const (
	ErrorTimeout     ErrorCode = "timeout"
	ErrorServer      ErrorCode = "server_error"
	ErrorRateLimited ErrorCode = "rate_limited"
	ErrorNetwork     ErrorCode = "network_error"
	ErrorTLS         ErrorCode = "tls_error"
	ErrorParse       ErrorCode = "parse_error"
)

// SourceError describes why a query did not produce a definitive answer.
type SourceError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status_code,omitempty"`
}

func (e *SourceError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// SourceResult is the immutable outcome of one protocol query.
type SourceResult struct {
	Source         Source         `json:"source"`
	Status         SourceStatus   `json:"status"`
	HTTPStatusCode int            `json:"http_status_code,omitempty"`
	ResponseTimeMS float64        `json:"response_time_ms"`
	Error          *SourceError   `json:"error,omitempty"`
	Server         string         `json:"server,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// HasError reports whether the result carries an error.
func (r *SourceResult) HasError() bool {
	return r != nil && r.Error != nil
}

// Availability is the final verdict for a domain.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityTaken
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityTaken:
		return "taken"
	default:
		return "unknown"
	}
}

// MarshalText encodes the verdict as its wire name.
func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a wire name into a verdict.
func (a *Availability) UnmarshalText(text []byte) error {
	parsed, err := ParseAvailability(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAvailability parses a verdict name.
func ParseAvailability(value string) (Availability, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "available":
		return AvailabilityAvailable, nil
	case "taken":
		return AvailabilityTaken, nil
	case "unknown":
		return AvailabilityUnknown, nil
	default:
		return AvailabilityUnknown, fmt.Errorf("unknown availability %q", value)
	}
}

// Confidence reflects how much source agreement backs a verdict.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceHigh
)

func (c Confidence) String() string {
	if c == ConfidenceHigh {
		return "high"
	}
	return "low"
}

// MarshalText encodes the confidence as its wire name.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a wire name into a confidence.
func (c *Confidence) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "high":
		*c = ConfidenceHigh
	case "low":
		*c = ConfidenceLow
	default:
		return fmt.Errorf("unknown confidence %q", string(text))
	}
	return nil
}

// CheckMetadata aggregates pipeline counters for one check.
type CheckMetadata struct {
	CheckID         string  `json:"check_id,omitempty"`
	TotalDurationMS float64 `json:"total_duration_ms"`
	RetryCount      int     `json:"retry_count"`
	RateLimitDelays int     `json:"rate_limit_delays"`
}

// CheckResult is the verdict for one domain check. It is built once and never
// mutated afterwards.
type CheckResult struct {
	Domain     string         `json:"domain"`
	Status     Availability   `json:"status"`
	Confidence Confidence     `json:"confidence"`
	Sources    []SourceResult `json:"sources"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   CheckMetadata  `json:"metadata"`
}

// Source returns the result for the given source, if present.
func (r *CheckResult) Source(source Source) *SourceResult {
	if r == nil {
		return nil
	}
	for i := range r.Sources {
		if r.Sources[i].Source == source {
			return &r.Sources[i]
		}
	}
	return nil
}

// OrchestratorResult wraps a check result with side-effect outcomes.
type OrchestratorResult struct {
	Result           CheckResult `json:"check_result"`
	NotificationSent bool        `json:"notification_sent"`
	Errors           []string    `json:"errors,omitempty"`
}

// ValidationErrorCode classifies domain validation failures.
type ValidationErrorCode string

const (
	ValidationEmptyInput          ValidationErrorCode = "empty_input"
	ValidationForbiddenChars      ValidationErrorCode = "forbidden_chars"
	ValidationIDNA                ValidationErrorCode = "idna_error"
	ValidationInvalidFormat       ValidationErrorCode = "invalid_format"
	ValidationInvalidTLD          ValidationErrorCode = "invalid_tld"
	ValidationTLDExtractionFailed ValidationErrorCode = "tld_extraction_failed"
)

// ValidationError explains why a raw domain was rejected.
type ValidationError struct {
	Code    ValidationErrorCode `json:"code"`
	Message string              `json:"message"`
	Details map[string]string   `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ValidationResult is produced by the domain validator.
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Domain string           `json:"canonical_domain,omitempty"`
	TLD    string           `json:"tld,omitempty"`
	Error  *ValidationError `json:"error,omitempty"`
}
