package output

import (
	"fmt"
	"strings"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct {
	Translator *i18n.Translator
}

// FormatResults renders results as Markdown.
func (f *MarkdownFormatter) FormatResults(results []core.OrchestratorResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	tr := f.Translator
	if tr == nil {
		tr = i18n.New(i18n.DefaultLanguage)
	}

	var sb strings.Builder
	sb.WriteString("## Domain availability\n\n")
	sb.WriteString("| Domain | Status | Confidence | Sources | Notes |\n")
	sb.WriteString("|--------|--------|------------|---------|-------|\n")

	for _, r := range results {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(r.Result.Domain),
			escapeMarkdownCell(tr.Status(r.Result.Status)),
			escapeMarkdownCell(tr.Confidence(r.Result.Confidence)),
			escapeMarkdownCell(formatSources(r.Result)),
			escapeMarkdownCell(formatNotes(r)),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", summarize(results)))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", " ")
}
