package state

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

type row struct {
	payload []byte
	mac     string
}

type memoryBackend struct {
	rows    map[string]row
	history map[string][]core.CheckResult
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{rows: map[string]row{}, history: map[string][]core.CheckResult{}}
}

func (m *memoryBackend) GetDomainState(ctx context.Context, domain string) ([]byte, string, error) {
	r, ok := m.rows[domain]
	if !ok {
		return nil, "", nil
	}
	return r.payload, r.mac, nil
}

func (m *memoryBackend) PutDomainState(ctx context.Context, domain string, payload []byte, mac string, updatedAt time.Time) error {
	m.rows[domain] = row{payload: payload, mac: mac}
	return nil
}

func (m *memoryBackend) ListStateDomains(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(m.rows))
	for domain := range m.rows {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryBackend) AppendCheckHistory(ctx context.Context, result core.CheckResult) error {
	m.history[result.Domain] = append(m.history[result.Domain], result)
	return nil
}

func (m *memoryBackend) PruneCheckHistory(ctx context.Context, domain string, keep int) (int64, error) {
	rows := m.history[domain]
	if len(rows) <= keep {
		return 0, nil
	}
	pruned := int64(len(rows) - keep)
	m.history[domain] = rows[len(rows)-keep:]
	return pruned, nil
}

func TestSQLStoreRecordAndMark(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	store, err := NewSQLStore(backend, "secret")
	require.NoError(t, err)

	at := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	_, err = store.Record(ctx, checkResult("example.de", core.AvailabilityTaken, at))
	require.NoError(t, err)
	next, err := store.Record(ctx, checkResult("example.de", core.AvailabilityAvailable, at.Add(time.Hour)))
	require.NoError(t, err)
	assert.Len(t, next.History, 2)
	assert.Len(t, backend.history["example.de"], 2)

	require.NoError(t, store.MarkNotified(ctx, "example.de", at.Add(2*time.Hour)))
	got, err := store.Get(ctx, "EXAMPLE.de")
	require.NoError(t, err)
	assert.Equal(t, core.AvailabilityAvailable, got.LastStatus)
	require.NotNil(t, got.LastNotified)

	domains, err := store.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.de"}, domains)

	require.ErrorIs(t, store.MarkNotified(ctx, "other.de", at), ErrNotFound)
}

func TestSQLStoreRejectsTamperedRow(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	store, err := NewSQLStore(backend, "secret")
	require.NoError(t, err)

	_, err = store.Record(ctx, checkResult("example.de", core.AvailabilityTaken, time.Now().UTC()))
	require.NoError(t, err)

	r := backend.rows["example.de"]
	r.payload = append([]byte(nil), r.payload...)
	r.payload[len(r.payload)-2] = ' '
	backend.rows["example.de"] = r

	_, err = store.Get(ctx, "example.de")
	require.ErrorIs(t, err, ErrTampered)

	_, err = store.Record(ctx, checkResult("example.de", core.AvailabilityAvailable, time.Now().UTC()))
	require.ErrorIs(t, err, ErrTampered)
}
