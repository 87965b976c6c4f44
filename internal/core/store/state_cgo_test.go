//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestDomainStateRows(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	payload, mac, err := store.GetDomainState(ctx, "example.de")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Empty(t, mac)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.PutDomainState(ctx, "Example.DE", []byte(`{"a":1}`), "abc", now))
	require.NoError(t, store.PutDomainState(ctx, "example.de", []byte(`{"a":2}`), "def", now.Add(time.Second)))

	payload, mac, err = store.GetDomainState(ctx, "example.de")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(payload))
	assert.Equal(t, "def", mac)

	domains, err := store.ListStateDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.de"}, domains)

	require.Error(t, store.PutDomainState(ctx, " ", nil, "", now))
}

func TestCheckHistoryRows(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendCheckHistory(ctx, core.CheckResult{
			Domain:     "example.de",
			Status:     core.AvailabilityTaken,
			Confidence: core.ConfidenceHigh,
			Sources:    []core.SourceResult{{Source: core.SourcePrimaryRDAP}, {Source: core.SourceWhois}},
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
			Metadata:   core.CheckMetadata{CheckID: "id", TotalDurationMS: 12.5},
		}))
	}

	pruned, err := store.PruneCheckHistory(ctx, "example.de", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	rows, err := store.ListCheckHistory(ctx, "example.de", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].CheckedAt.Equal(start.Add(4*time.Minute)))
	assert.Equal(t, core.AvailabilityTaken, rows[0].Status)
	assert.Equal(t, core.ConfidenceHigh, rows[0].Confidence)
	assert.Equal(t, []core.Source{core.SourcePrimaryRDAP, core.SourceWhois}, rows[0].Sources)
	assert.InDelta(t, 12.5, rows[0].DurationMS, 0.001)
}

func TestAuditRows(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertAuditEntry(ctx, AuditRow{
		LoggedAt:  at,
		Level:     "INFO",
		Component: "orchestrator",
		Message:   "check complete",
		Data:      map[string]any{"domain": "example.de"},
		Signature: "sig",
	}))
	require.NoError(t, store.InsertAuditEntry(ctx, AuditRow{LoggedAt: at.Add(time.Hour), Level: "ERROR", Component: "notify", Message: "failed"}))

	rows, err := store.ListAuditEntries(ctx, at, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "example.de", rows[0].Data["domain"])
	assert.Equal(t, "sig", rows[0].Signature)
	assert.Nil(t, rows[1].Data)

	later, err := store.ListAuditEntries(ctx, at.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, later, 1)
}

func TestReplaceBootstrap(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	stored, removed, err := store.ReplaceBootstrap(ctx, core.BootstrapSnapshot{
		Version:     "1.0",
		Publication: "2024-12-01T00:00:00Z",
		Source:      "https://data.iana.org/rdap/dns.json",
		FetchedAt:   first,
		Servers: map[string][]string{
			".COM":  {"https://rdap.verisign.com/com/v1", " https://rdap.verisign.com/com/v1 "},
			"dead":  {"https://rdap.dead.example"},
			"empty": {" "},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Zero(t, removed)

	servers, err := store.GetRDAPServers(ctx, "com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rdap.verisign.com/com/v1"}, servers)

	servers, err = store.GetRDAPServers(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, servers)

	info, err := store.BootstrapInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TLDCount)
	assert.Equal(t, "1.0", info.Version)
	assert.Equal(t, "2024-12-01T00:00:00Z", info.Publication)
	assert.Equal(t, first, info.FetchedAt)

	// A later refresh drops TLDs IANA no longer lists.
	stored, removed, err = store.ReplaceBootstrap(ctx, core.BootstrapSnapshot{
		Version:   "1.1",
		FetchedAt: first.Add(24 * time.Hour),
		Servers: map[string][]string{
			"com":  {"https://rdap.verisign.com/com/v1"},
			"shop": {"https://rdap.shop.example"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, removed)

	servers, err = store.GetRDAPServers(ctx, "dead")
	require.NoError(t, err)
	assert.Nil(t, servers)

	info, err = store.BootstrapInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1", info.Version)
	assert.Empty(t, info.Source)
	assert.Equal(t, first.Add(24*time.Hour), info.FetchedAt)
}

func TestBootstrapInfoEmptyCache(t *testing.T) {
	info, err := openMemoryStore(t).BootstrapInfo(context.Background())
	require.NoError(t, err)
	assert.Zero(t, info.TLDCount)
	assert.True(t, info.FetchedAt.IsZero())
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openMemoryStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}
