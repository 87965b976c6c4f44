package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// HistoryRow is one persisted check outcome.
type HistoryRow struct {
	CheckID    string
	Domain     string
	Status     core.Availability
	Confidence core.Confidence
	Sources    []core.Source
	DurationMS float64
	CheckedAt  time.Time
}

// GetDomainState returns the signed payload for domain. A missing row
// returns nil payload and no error.
func (s *Store) GetDomainState(ctx context.Context, domain string) ([]byte, string, error) {
	if s == nil || s.DB == nil {
		return nil, "", errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var payload, mac string
	err := s.DB.QueryRowContext(ctx, `SELECT payload, hmac FROM domain_state WHERE domain = ?`, normalizeDomain(domain)).Scan(&payload, &mac)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetch domain state: %w", err)
	}
	return []byte(payload), mac, nil
}

// PutDomainState upserts the signed payload for domain.
func (s *Store) PutDomainState(ctx context.Context, domain string, payload []byte, mac string, updatedAt time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := normalizeDomain(domain)
	if key == "" {
		return errors.New("domain is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO domain_state (domain, payload, hmac, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			payload = excluded.payload,
			hmac = excluded.hmac,
			updated_at = excluded.updated_at
	`, key, string(payload), mac, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store domain state: %w", err)
	}
	return nil
}

// ListStateDomains returns every domain with stored state.
func (s *Store) ListStateDomains(ctx context.Context) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT domain FROM domain_state ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list domain state: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("scan domain state: %w", err)
		}
		out = append(out, domain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domain state: %w", err)
	}
	return out, nil
}

// AppendCheckHistory stores one check result.
func (s *Store) AppendCheckHistory(ctx context.Context, result core.CheckResult) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sources := make([]core.Source, 0, len(result.Sources))
	for _, src := range result.Sources {
		sources = append(sources, src.Source)
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal history sources: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO check_history (check_id, domain, status, confidence, sources, duration_ms, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.Metadata.CheckID, normalizeDomain(result.Domain), result.Status.String(), result.Confidence.String(),
		string(encoded), result.Metadata.TotalDurationMS, result.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("store check history: %w", err)
	}
	return nil
}

// ListCheckHistory returns the newest history rows for domain, newest first.
func (s *Store) ListCheckHistory(ctx context.Context, domain string, limit int) ([]HistoryRow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = core.MaxHistoryEntries
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT COALESCE(check_id, ''), domain, status, confidence, sources, duration_ms, checked_at
		FROM check_history
		WHERE domain = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?
	`, normalizeDomain(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("list check history: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []HistoryRow
	for rows.Next() {
		var (
			row        HistoryRow
			status     string
			confidence string
			sources    string
			checkedAt  int64
		)
		if err := rows.Scan(&row.CheckID, &row.Domain, &status, &confidence, &sources, &row.DurationMS, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan check history: %w", err)
		}
		if row.Status, err = core.ParseAvailability(status); err != nil {
			return nil, err
		}
		if err := row.Confidence.UnmarshalText([]byte(confidence)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &row.Sources); err != nil {
			return nil, fmt.Errorf("decode history sources: %w", err)
		}
		row.CheckedAt = time.UnixMilli(checkedAt).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list check history: %w", err)
	}
	return out, nil
}

// PruneCheckHistory keeps the newest keep rows for domain.
func (s *Store) PruneCheckHistory(ctx context.Context, domain string, keep int) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if keep <= 0 {
		keep = core.MaxHistoryEntries
	}

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM check_history
		WHERE domain = ? AND id NOT IN (
			SELECT id FROM check_history WHERE domain = ? ORDER BY checked_at DESC, id DESC LIMIT ?
		)
	`, normalizeDomain(domain), normalizeDomain(domain), keep)
	if err != nil {
		return 0, fmt.Errorf("prune check history: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}
