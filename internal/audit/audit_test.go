package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core/engine"
	"github.com/namelens/domaincheck/internal/core/store"
)

var _ engine.Auditor = (*Logger)(nil)

type memorySink struct {
	rows []store.AuditRow
	err  error
}

func (m *memorySink) InsertAuditEntry(ctx context.Context, row store.AuditRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, row)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
}

func TestMask(t *testing.T) {
	masked := Mask(map[string]any{
		"domain":    "example.de",
		"bot_token": "123:abc",
		"nested": map[string]any{
			"Password": "hunter2",
			"port":     587,
		},
		"headers": map[string]string{"Authorization": "Bearer x"},
		"items":   []any{map[string]any{"api_key": "k"}, "plain"},
	})

	assert.Equal(t, "example.de", masked["domain"])
	assert.Equal(t, MaskValue, masked["bot_token"])
	nested := masked["nested"].(map[string]any)
	assert.Equal(t, MaskValue, nested["Password"])
	assert.Equal(t, 587, nested["port"])
	assert.Equal(t, MaskValue, masked["headers"].(map[string]any)["Authorization"])
	items := masked["items"].([]any)
	assert.Equal(t, MaskValue, items[0].(map[string]any)["api_key"])
	assert.Equal(t, "plain", items[1])
}

func TestMaskDoesNotModifyInput(t *testing.T) {
	input := map[string]any{"secret": "value"}
	_ = Mask(input)
	assert.Equal(t, "value", input["secret"])
}

func TestSignedEntriesVerify(t *testing.T) {
	l := New(config.AuditConfig{Enabled: true, SigningKey: "audit-key"}, nil, nil, nil)
	l.Clock = fixedClock

	entry := l.Record(LevelInfo, "CheckOrchestrator", "Check completed", map[string]any{"domain": "example.de"})
	require.NotEmpty(t, entry.Signature)
	assert.True(t, l.Verify(entry))
	assert.Equal(t, fixedClock().Truncate(time.Millisecond), entry.Timestamp)

	tampered := entry
	tampered.Message = "Check skipped"
	assert.False(t, l.Verify(tampered))

	assert.False(t, Verify([]byte("other-key"), entry))
}

func TestUnsignedWhenAuditModeOff(t *testing.T) {
	l := New(config.AuditConfig{SigningKey: "audit-key"}, nil, nil, nil)
	entry := l.Record(LevelInfo, "c", "m", nil)
	assert.Empty(t, entry.Signature)
	assert.False(t, l.Signing())
	assert.False(t, l.Verify(entry))

	l.EnableSigning("k")
	assert.NotEmpty(t, l.Record(LevelInfo, "c", "m", nil).Signature)
	l.DisableSigning()
	assert.Empty(t, l.Record(LevelInfo, "c", "m", nil).Signature)
}

func TestRenderFormats(t *testing.T) {
	entry := Entry{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelError,
		Component: "StateStore",
		Message:   "Failed to save state",
		Data:      map[string]any{"domain": "example.de"},
	}

	assert.Equal(t, `[2025-03-01T12:00:00Z] ERROR [StateStore] Failed to save state {"domain":"example.de"}`, Render(entry, FormatText))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(Render(entry, FormatJSON)), &decoded))
	assert.Equal(t, "error", decoded["level"])
	assert.Equal(t, "StateStore", decoded["component"])
	assert.NotContains(t, decoded, "signature")
}

func TestOutputStream(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.AuditConfig{Format: FormatText}, nil, &buf, nil)
	l.Clock = fixedClock

	l.Info("RateLimiter", "Rate limit delay: 1s", map[string]any{"tld": "de"})
	l.Error("notify", "Notification delivery failed", map[string]any{"webhook_url": "https://hooks.example"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO [RateLimiter]")
	assert.Contains(t, lines[1], MaskValue)
	assert.NotContains(t, buf.String(), "hooks.example")
	assert.Len(t, l.Entries(), 2)
}

func TestPersistsToSink(t *testing.T) {
	sink := &memorySink{}
	l := New(config.AuditConfig{Enabled: true, SigningKey: "k", Persist: true}, nil, nil, sink)
	l.Clock = fixedClock

	entry := l.Record(LevelWarn, "RDAPClient", "Slow response", map[string]any{"ms": 1200})
	require.Len(t, sink.rows, 1)
	row := sink.rows[0]
	assert.Equal(t, "warning", row.Level)
	assert.Equal(t, entry.Signature, row.Signature)

	// Persisted rows decode numbers as float64; signatures still verify.
	stored := FromRow(store.AuditRow{
		LoggedAt:  row.LoggedAt,
		Level:     row.Level,
		Component: row.Component,
		Message:   row.Message,
		Data:      map[string]any{"ms": float64(1200)},
		Signature: row.Signature,
	})
	assert.True(t, Verify([]byte("k"), stored))
}

func TestSinkFailureDoesNotPanic(t *testing.T) {
	l := New(config.AuditConfig{Persist: true}, nil, nil, &memorySink{err: errors.New("disk full")})
	assert.NotPanics(t, func() { l.Info("c", "m", nil) })
}

func TestSinkIgnoredWithoutPersist(t *testing.T) {
	sink := &memorySink{}
	l := New(config.AuditConfig{}, nil, nil, sink)
	l.Info("c", "m", nil)
	assert.Empty(t, sink.rows)
}
