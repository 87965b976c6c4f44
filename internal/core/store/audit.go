package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditRow is one persisted audit entry.
type AuditRow struct {
	ID        int64
	LoggedAt  time.Time
	Level     string
	Component string
	Message   string
	Data      map[string]any
	Signature string
}

// InsertAuditEntry appends an audit entry.
func (s *Store) InsertAuditEntry(ctx context.Context, row AuditRow) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var data []byte
	if len(row.Data) > 0 {
		encoded, err := json.Marshal(row.Data)
		if err != nil {
			return fmt.Errorf("marshal audit data: %w", err)
		}
		data = encoded
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_log (logged_at, level, component, message, data, signature)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.LoggedAt.UnixMilli(), row.Level, row.Component, row.Message, string(data), row.Signature)
	if err != nil {
		return fmt.Errorf("store audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns entries logged at or after since, oldest first.
func (s *Store) ListAuditEntries(ctx context.Context, since time.Time, limit int) ([]AuditRow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, logged_at, level, component, message, COALESCE(data, ''), COALESCE(signature, '')
		FROM audit_log
		WHERE logged_at >= ?
		ORDER BY logged_at, id
		LIMIT ?
	`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []AuditRow
	for rows.Next() {
		var (
			row      AuditRow
			loggedAt int64
			data     string
		)
		if err := rows.Scan(&row.ID, &loggedAt, &row.Level, &row.Component, &row.Message, &data, &row.Signature); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		row.LoggedAt = time.UnixMilli(loggedAt).UTC()
		if data != "" {
			if err := json.Unmarshal([]byte(data), &row.Data); err != nil {
				return nil, fmt.Errorf("decode audit data: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}
