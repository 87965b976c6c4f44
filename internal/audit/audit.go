// Package audit records structured, optionally signed audit entries for the
// check pipeline.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core/store"
)

// Levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warning"
	LevelError = "error"
)

// Formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// MaskValue replaces sensitive values.
const MaskValue = "***MASKED***"

var sensitiveKeys = []string{
	"token", "secret", "password", "api_key", "bot_token", "webhook_url",
	"auth", "credential", "private_key", "hmac", "signing_key",
}

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Signature string         `json:"signature,omitempty"`
}

// Sink persists entries.
type Sink interface {
	InsertAuditEntry(ctx context.Context, row store.AuditRow) error
}

// Logger writes audit entries to the application log, an optional output
// stream and an optional persistent sink. It is safe for concurrent use.
type Logger struct {
	Log    *logging.Logger
	Output io.Writer
	Format string
	Sink   Sink
	Clock  func() time.Time

	mu         sync.Mutex
	signingKey []byte
	entries    []Entry
	keep       int
}

// New builds an audit logger from configuration. sink may be nil.
func New(cfg config.AuditConfig, log *logging.Logger, output io.Writer, sink Sink) *Logger {
	l := &Logger{Log: log, Output: output, Format: cfg.Format, keep: 1000}
	if cfg.Persist {
		l.Sink = sink
	}
	if cfg.Enabled && cfg.SigningKey != "" {
		l.EnableSigning(cfg.SigningKey)
	}
	return l
}

// EnableSigning turns on audit mode: subsequent entries are HMAC-signed.
func (l *Logger) EnableSigning(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signingKey = []byte(key)
}

// DisableSigning turns audit mode off.
func (l *Logger) DisableSigning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signingKey = nil
}

// Signing reports whether audit mode is on.
func (l *Logger) Signing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signingKey) > 0
}

// Info records an informational entry.
func (l *Logger) Info(component, message string, data map[string]any) {
	l.Record(LevelInfo, component, message, data)
}

// Warn records a warning entry.
func (l *Logger) Warn(component, message string, data map[string]any) {
	l.Record(LevelWarn, component, message, data)
}

// Error records an error entry.
func (l *Logger) Error(component, message string, data map[string]any) {
	l.Record(LevelError, component, message, data)
}

// Record masks, signs and emits one entry and returns it.
func (l *Logger) Record(level, component, message string, data map[string]any) Entry {
	entry := Entry{
		Timestamp: l.now().UTC().Truncate(time.Millisecond),
		Level:     level,
		Component: component,
		Message:   message,
		Data:      Mask(data),
	}

	l.mu.Lock()
	if len(l.signingKey) > 0 {
		entry.Signature = Sign(l.signingKey, entry)
	}
	if l.keep > 0 {
		l.entries = append(l.entries, entry)
		if overflow := len(l.entries) - l.keep; overflow > 0 {
			l.entries = append([]Entry(nil), l.entries[overflow:]...)
		}
	}
	if l.Output != nil {
		_, _ = io.WriteString(l.Output, Render(entry, l.Format)+"\n")
	}
	l.mu.Unlock()

	l.emit(entry)
	if l.Sink != nil {
		row := store.AuditRow{
			LoggedAt:  entry.Timestamp,
			Level:     entry.Level,
			Component: entry.Component,
			Message:   entry.Message,
			Data:      entry.Data,
			Signature: entry.Signature,
		}
		if err := l.Sink.InsertAuditEntry(context.Background(), row); err != nil && l.Log != nil {
			l.Log.Warn("Failed to persist audit entry", zap.String("component", component), zap.Error(err))
		}
	}
	return entry
}

// Entries returns the most recent in-memory entries.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Verify checks an entry signature against the active signing key.
func (l *Logger) Verify(entry Entry) bool {
	l.mu.Lock()
	key := l.signingKey
	l.mu.Unlock()
	return Verify(key, entry)
}

func (l *Logger) emit(entry Entry) {
	if l.Log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("audit_component", entry.Component),
		zap.Any("data", entry.Data),
	}
	if entry.Signature != "" {
		fields = append(fields, zap.String("signature", entry.Signature))
	}
	switch entry.Level {
	case LevelError:
		l.Log.Error(entry.Message, fields...)
	case LevelWarn:
		l.Log.Warn(entry.Message, fields...)
	default:
		l.Log.Info(entry.Message, fields...)
	}
}

func (l *Logger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// FromRow converts a persisted row back into an entry.
func FromRow(row store.AuditRow) Entry {
	return Entry{
		Timestamp: row.LoggedAt.UTC(),
		Level:     row.Level,
		Component: row.Component,
		Message:   row.Message,
		Data:      row.Data,
		Signature: row.Signature,
	}
}

// Sign returns the hex HMAC-SHA256 over the entry without its signature.
func Sign(key []byte, entry Entry) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(signable(entry))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether entry carries a valid signature for key.
func Verify(key []byte, entry Entry) bool {
	if len(key) == 0 || entry.Signature == "" {
		return false
	}
	return hmac.Equal([]byte(entry.Signature), []byte(Sign(key, entry)))
}

func signable(entry Entry) []byte {
	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, _ := json.Marshal(struct {
		Timestamp string         `json:"timestamp"`
		Level     string         `json:"level"`
		Component string         `json:"component"`
		Message   string         `json:"message"`
		Data      map[string]any `json:"data"`
	}{
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:     entry.Level,
		Component: entry.Component,
		Message:   entry.Message,
		Data:      data,
	})
	return payload
}

// Mask returns a copy of data with sensitive values replaced. Nested maps and
// maps inside slices are masked recursively.
func Mask(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		if isSensitive(key) {
			out[key] = MaskValue
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[key] = Mask(v)
		case map[string]string:
			nested := make(map[string]any, len(v))
			for k, s := range v {
				nested[k] = s
			}
			out[key] = Mask(nested)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					items[i] = Mask(m)
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Render formats an entry as a JSON line or as
// "[timestamp] LEVEL [component] message {data}".
func Render(entry Entry, format string) string {
	if strings.EqualFold(format, FormatText) {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s [%s] %s", entry.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(entry.Level), entry.Component, entry.Message)
		if len(entry.Data) > 0 {
			data, _ := json.Marshal(entry.Data)
			b.WriteString(" ")
			b.Write(data)
		}
		if entry.Signature != "" {
			b.WriteString(" sig=" + entry.Signature)
		}
		return b.String()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":"error","message":"unencodable audit entry: %s"}`, err)
	}
	return string(line)
}
