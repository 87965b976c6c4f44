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

const (
	metaVersion     = "bootstrap_version"
	metaPublication = "bootstrap_publication"
	metaFetchedAt   = "bootstrap_fetched_at"
	metaSource      = "bootstrap_source"
)

// ReplaceBootstrap swaps the cached RDAP bootstrap mapping for snap in one
// transaction. TLDs absent from snap are removed so a delegation dropped by
// IANA stops resolving. Endpoints are trimmed and de-duplicated in order; a
// TLD left without endpoints is not stored. It returns the stored and
// removed TLD counts.
func (s *Store) ReplaceBootstrap(ctx context.Context, snap core.BootstrapSnapshot) (stored, removed int, err error) {
	if s == nil || s.DB == nil {
		return 0, 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows := make(map[string]string, len(snap.Servers))
	for tld, servers := range snap.Servers {
		normalized := normalizeTLD(tld)
		endpoints := dedupeEndpoints(servers)
		if normalized == "" || len(endpoints) == 0 {
			continue
		}
		payload, err := json.Marshal(endpoints)
		if err != nil {
			return 0, 0, fmt.Errorf("marshal rdap servers for %s: %w", normalized, err)
		}
		rows[normalized] = string(payload)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin bootstrap refresh: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := cachedTLDs(ctx, tx)
	if err != nil {
		return 0, 0, err
	}
	for _, tld := range existing {
		if _, kept := rows[tld]; !kept {
			removed++
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM bootstrap_tlds`); err != nil {
		return 0, 0, fmt.Errorf("clear bootstrap tlds: %w", err)
	}

	updatedAt := snap.FetchedAt.Unix()
	for tld, payload := range rows {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO bootstrap_tlds (tld, rdap_urls, updated_at)
			VALUES (?, ?, ?)
		`, tld, payload, updatedAt); err != nil {
			return 0, 0, fmt.Errorf("store rdap servers for %s: %w", tld, err)
		}
	}

	meta := map[string]string{
		metaVersion:     snap.Version,
		metaPublication: snap.Publication,
		metaFetchedAt:   snap.FetchedAt.UTC().Format(time.RFC3339),
		metaSource:      snap.Source,
	}
	for key, value := range meta {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO bootstrap_meta (key, value)
			VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value
		`, key, value); err != nil {
			return 0, 0, fmt.Errorf("store bootstrap meta %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit bootstrap refresh: %w", err)
	}

	return len(rows), removed, nil
}

func cachedTLDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT tld FROM bootstrap_tlds`)
	if err != nil {
		return nil, fmt.Errorf("list bootstrap tlds: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var tlds []string
	for rows.Next() {
		var tld string
		if err := rows.Scan(&tld); err != nil {
			return nil, fmt.Errorf("scan bootstrap tld: %w", err)
		}
		tlds = append(tlds, tld)
	}
	return tlds, rows.Err()
}

// BootstrapInfo returns the cached bootstrap metadata. A never-refreshed
// cache yields a zero FetchedAt.
func (s *Store) BootstrapInfo(ctx context.Context) (core.BootstrapInfo, error) {
	var info core.BootstrapInfo
	if s == nil || s.DB == nil {
		return info, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM bootstrap_tlds`).Scan(&info.TLDCount); err != nil {
		return info, fmt.Errorf("count bootstrap tlds: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM bootstrap_meta`)
	if err != nil {
		return info, fmt.Errorf("fetch bootstrap meta: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return info, fmt.Errorf("scan bootstrap meta: %w", err)
		}
		switch key {
		case metaVersion:
			info.Version = value
		case metaPublication:
			info.Publication = value
		case metaSource:
			info.Source = value
		case metaFetchedAt:
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				info.FetchedAt = parsed
			}
		}
	}
	if err := rows.Err(); err != nil {
		return info, fmt.Errorf("fetch bootstrap meta: %w", err)
	}
	return info, nil
}

// GetRDAPServers returns the cached RDAP base URLs for a TLD, or nil when
// the TLD is not in the bootstrap cache.
func (s *Store) GetRDAPServers(ctx context.Context, tld string) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := normalizeTLD(tld)
	if normalized == "" {
		return nil, errors.New("tld is required")
	}

	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT rdap_urls FROM bootstrap_tlds WHERE tld = ?`, normalized).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("fetch rdap servers for %s: %w", normalized, err)
	}

	var servers []string
	if err := json.Unmarshal([]byte(payload), &servers); err != nil {
		return nil, fmt.Errorf("decode rdap servers for %s: %w", normalized, err)
	}
	return servers, nil
}

func normalizeTLD(tld string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tld)), ".")
}

func dedupeEndpoints(servers []string) []string {
	seen := make(map[string]struct{}, len(servers))
	out := make([]string, 0, len(servers))
	for _, raw := range servers {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
