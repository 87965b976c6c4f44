package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{"remote url gains token", config.StoreConfig{URL: "libsql://state.turso.io", AuthToken: "tok"}, "libsql://state.turso.io?authToken=tok"},
		{"remote url keeps query", config.StoreConfig{URL: "libsql://state.turso.io?tls=1", AuthToken: "tok"}, "libsql://state.turso.io?authToken=tok&tls=1"},
		{"explicit token wins", config.StoreConfig{URL: "libsql://state.turso.io?authToken=inline", AuthToken: "tok"}, "libsql://state.turso.io?authToken=inline"},
		{"url without token", config.StoreConfig{URL: " libsql://state.turso.io "}, "libsql://state.turso.io"},
		{"url beats path", config.StoreConfig{URL: "libsql://state.turso.io", Path: "ignored.db"}, "libsql://state.turso.io"},
		{"memory", config.StoreConfig{Path: ":memory:"}, ":memory:"},
		{"libsql path", config.StoreConfig{Path: "libsql://replica.local"}, "libsql://replica.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestBuildLibsqlDSNCreatesStateDir(t *testing.T) {
	root := t.TempDir()

	plain := filepath.Join(root, "state", "domaincheck.db")
	dsn, err := buildLibsqlDSN(config.StoreConfig{Path: plain})
	require.NoError(t, err)
	assert.Equal(t, "file:"+plain, dsn)
	assert.DirExists(t, filepath.Dir(plain))

	prefixed := "file:" + filepath.Join(root, "watch", "history.db")
	dsn, err = buildLibsqlDSN(config.StoreConfig{Path: prefixed})
	require.NoError(t, err)
	assert.Equal(t, prefixed, dsn)
	_, err = os.Stat(filepath.Join(root, "watch"))
	assert.NoError(t, err)
}

func TestBuildLibsqlDSNRequiresLocation(t *testing.T) {
	_, err := buildLibsqlDSN(config.StoreConfig{Path: "  "})
	require.ErrorContains(t, err, "store path or url is required")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver: postgres")
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Empty(t, s.Driver())
	assert.Error(t, s.CheckHealth(context.Background()))
	assert.Error(t, s.Migrate(context.Background()))
}
