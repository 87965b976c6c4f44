// Package i18n provides German and English user-facing messages.
package i18n

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	German  = "de"
	English = "en"

	// DefaultLanguage is used for unknown or empty language codes.
	DefaultLanguage = German
)

//go:embed messages.yaml
var catalogYAML []byte

var (
	catalogOnce sync.Once
	catalog     map[string]map[string]string
	catalogErr  error
)

func load() (map[string]map[string]string, error) {
	catalogOnce.Do(func() {
		var parsed map[string]map[string]string
		if err := yaml.Unmarshal(catalogYAML, &parsed); err != nil {
			catalogErr = fmt.Errorf("decode message catalog: %w", err)
			return
		}
		catalog = parsed
	})
	return catalog, catalogErr
}

// Supported reports whether lang has a catalog.
func Supported(lang string) bool {
	switch normalize(lang) {
	case German, English:
		return true
	}
	return false
}

// Translator renders messages in one language.
type Translator struct {
	lang string
}

// New returns a translator for lang. Unsupported languages use the default.
func New(lang string) *Translator {
	lang = normalize(lang)
	if !Supported(lang) {
		lang = DefaultLanguage
	}
	return &Translator{lang: lang}
}

// Language returns the active language code.
func (t *Translator) Language() string {
	if t == nil {
		return DefaultLanguage
	}
	return t.lang
}

// T renders key with {name} placeholders replaced from args. A missing
// translation falls back to English, then to the key itself.
func (t *Translator) T(key string, args map[string]string) string {
	messages, err := load()
	if err != nil {
		return key
	}
	variants, ok := messages[key]
	if !ok {
		return key
	}
	template, ok := variants[t.Language()]
	if !ok || template == "" {
		template, ok = variants[English]
		if !ok || template == "" {
			return key
		}
	}
	if len(args) == 0 {
		return template
	}

	pairs := make([]string, 0, len(args)*2)
	for name, value := range args {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Status returns the localized name of a verdict.
func (t *Translator) Status(status core.Availability) string {
	return t.T("status."+status.String(), nil)
}

// Confidence returns the localized name of a confidence level.
func (t *Translator) Confidence(confidence core.Confidence) string {
	return t.T("confidence."+confidence.String(), nil)
}

// FormatTime renders ts for humans: "10.12.2025, 05:29 Uhr" in German and
// "Dec 10, 2025, 05:29 AM" in English.
func (t *Translator) FormatTime(ts time.Time) string {
	if t.Language() == English {
		return ts.Format("Jan 02, 2006, 03:04 PM")
	}
	return ts.Format("02.01.2006, 15:04") + " Uhr"
}

// Keys returns every catalog key in sorted order.
func Keys() []string {
	messages, err := load()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(messages))
	for key := range messages {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Missing returns catalog keys without a translation in lang.
func Missing(lang string) []string {
	messages, err := load()
	if err != nil {
		return nil
	}
	var missing []string
	for _, key := range Keys() {
		if messages[key][normalize(lang)] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func normalize(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
