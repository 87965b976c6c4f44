package output

import (
	"encoding/json"

	"github.com/namelens/domaincheck/internal/core"
)

// JSONFormatter renders results as JSON. A single result is rendered as an
// object, several as an array.
type JSONFormatter struct {
	Indent bool
}

// FormatResults renders results as JSON.
func (f *JSONFormatter) FormatResults(results []core.OrchestratorResult) (string, error) {
	var payload any = results
	if len(results) == 1 {
		payload = results[0]
	} else if results == nil {
		payload = []core.OrchestratorResult{}
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
