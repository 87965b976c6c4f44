package i18n

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

func TestCatalogIsComplete(t *testing.T) {
	require.NotEmpty(t, Keys())
	assert.Empty(t, Missing(German))
	assert.Empty(t, Missing(English))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		key  string
		args map[string]string
		want string
	}{
		{"de", "status.available", nil, "Verfügbar"},
		{"en", "status.available", nil, "Available"},
		{"EN", "status.taken", nil, "Taken"},
		{"en", "validation.invalid_tld", map[string]string{"tld": "xyz"}, "TLD 'xyz' is not in the configured allowed list"},
		{"de", "notification.email_subject_available", map[string]string{"domain": "example.de"}, "Domain example.de ist verfügbar!"},
		{"fr", "status.unknown", nil, "Unbekannt"},
		{"en", "no.such.key", nil, "no.such.key"},
	}

	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.lang).T(tt.key, tt.args))
		})
	}
}

func TestStatusAndConfidence(t *testing.T) {
	de := New(German)
	en := New(English)

	assert.Equal(t, "Belegt", de.Status(core.AvailabilityTaken))
	assert.Equal(t, "Unknown", en.Status(core.AvailabilityUnknown))
	assert.Equal(t, "Hoch", de.Confidence(core.ConfidenceHigh))
	assert.Equal(t, "Low", en.Confidence(core.ConfidenceLow))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2025, 12, 10, 5, 29, 0, 0, time.UTC)

	assert.Equal(t, "10.12.2025, 05:29 Uhr", New(German).FormatTime(ts))
	assert.Equal(t, "Dec 10, 2025, 05:29 AM", New(English).FormatTime(ts))
}

func TestUnsupportedLanguageFallsBackToDefault(t *testing.T) {
	assert.False(t, Supported("fr"))
	assert.Equal(t, DefaultLanguage, New("fr").Language())
	assert.Equal(t, DefaultLanguage, New("").Language())
}
