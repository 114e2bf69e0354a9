//go:build integration

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/storage/memory"
)

// setupMinIO starts a MinIO container and returns a store backed by it.
func setupMinIO(t *testing.T) *S3Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	store, err := NewS3Store(ctx, Config{
		Endpoint:     "http://" + host + ":" + port.Port(),
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "chronicle-archive",
		Region:       "us-east-1",
		UsePathStyle: true,
	})
	require.NoError(t, err, "Failed to create S3 store")
	return store
}

func TestArchiveToMinIO_Integration(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	db := memory.New()
	hist := db.Collection(history.Name("orders"))
	for i := 0; i < 3; i++ {
		_, err := hist.Insert(ctx, document.New(
			history.RefIDField, "o-1",
			"_version", int32(i+1),
			"_lastChange", time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		))
		require.NoError(t, err)
	}

	a := NewArchiver(store)
	res, err := a.Archive(ctx, "orders", hist, Options{DeleteArchived: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, int64(3), res.Deleted)

	exists, err := store.ObjectExists(ctx, res.Key)
	require.NoError(t, err)
	assert.True(t, exists)

	keys, err := a.List(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{res.Key}, keys)

	restored, err := a.Restore(ctx, res.Key, hist)
	require.NoError(t, err)
	assert.Equal(t, 3, restored)

	require.NoError(t, store.DeleteObject(ctx, res.Key))
	exists, err = store.ObjectExists(ctx, res.Key)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, store.HealthCheck(ctx))
}
