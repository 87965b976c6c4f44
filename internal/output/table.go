package output

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct {
	Translator *i18n.Translator
}

// FormatResults renders results as a table.
func (f *TableFormatter) FormatResults(results []core.OrchestratorResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	tr := f.Translator
	if tr == nil {
		tr = i18n.New(i18n.DefaultLanguage)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Domain", "Status", "Confidence", "Sources", "Notes"})

	for _, r := range results {
		t.AppendRow(table.Row{
			r.Result.Domain,
			tr.Status(r.Result.Status),
			tr.Confidence(r.Result.Confidence),
			formatSources(r.Result),
			formatNotes(r),
		})
	}

	if len(results) > 1 {
		t.AppendFooter(table.Row{"", summarize(results).String(), "", "", ""})
	}

	return t.Render(), nil
}
