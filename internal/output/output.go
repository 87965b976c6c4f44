package output

import (
	"fmt"
	"strings"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders orchestrator results.
type Formatter interface {
	FormatResults(results []core.OrchestratorResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format. tr localizes
// table and markdown labels; nil uses the default language.
func NewFormatter(format Format, tr *i18n.Translator) Formatter {
	if tr == nil {
		tr = i18n.New(i18n.DefaultLanguage)
	}
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{Translator: tr}
	default:
		return &TableFormatter{Translator: tr}
	}
}

// Summary counts verdicts across results.
type Summary struct {
	Total     int
	Available int
	Taken     int
	Unknown   int
}

func summarize(results []core.OrchestratorResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Result.Status {
		case core.AvailabilityAvailable:
			s.Available++
		case core.AvailabilityTaken:
			s.Taken++
		default:
			s.Unknown++
		}
	}
	return s
}

func (s Summary) String() string {
	summary := fmt.Sprintf("%d/%d available", s.Available, s.Total)
	if s.Unknown > 0 {
		summary += fmt.Sprintf(", %d unknown", s.Unknown)
	}
	return summary
}
