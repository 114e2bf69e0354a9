package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  storage.Config
	}{
		{name: "memory", cfg: storage.Config{Type: Memory}},
		{name: "default", cfg: storage.Config{}},
		{name: "filesystem", cfg: storage.Config{Type: Filesystem, FilesystemRoot: filepath.Join(dir, "fs")}},
		{name: "sqlite", cfg: storage.Config{Type: SQLite, SQLitePath: filepath.Join(dir, "db", "c.db")}},
		{name: "redis", cfg: storage.Config{Type: Redis, RedisURL: "redis://" + mr.Addr(), RedisKeyPrefix: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db, err := Open(ctx, tt.cfg, nil, nil)
			require.NoError(t, err)
			defer db.Close(ctx)

			require.NoError(t, db.Ping(ctx))
			c := db.Collection("things")
			_, err = c.Insert(ctx, document.New("_id", tt.name))
			require.NoError(t, err)
			n, err := c.Count(ctx, document.New("_id", tt.name))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{Type: "etcd"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}
