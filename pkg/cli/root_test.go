package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/collection"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/memory"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

var stamp = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *bucket) PutObject(ctx context.Context, key string, content io.Reader, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *bucket) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, archive.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *bucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *bucket) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *bucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *bucket) HealthCheck(ctx context.Context) error { return nil }

func newTestEnv(t *testing.T, withArchive bool) (*Env, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	db, err := chronicle.New(memory.New(), audit.DefaultPolicy(), chronicle.WithCollectionOptions(
		collection.WithStamper(&versioning.Stamper{Now: func() time.Time { return stamp }}),
	))
	require.NoError(t, err)

	users := db.Collection("users")
	_, err = users.Save(ctx, document.New("_id", 1, "name", "A"))
	require.NoError(t, err)
	_, err = users.Update(document.New("_id", 1)).WithRecord(ctx, document.New("name", "B"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	out := &bytes.Buffer{}
	env := &Env{DB: db, Out: out, Logger: logger}
	if withArchive {
		env.Archiver = archive.NewArchiver(&bucket{objects: make(map[string][]byte)}, archive.WithLogger(logger))
	}
	return env, out
}

func historyRows(t *testing.T, env *Env) int64 {
	t.Helper()
	n, err := env.DB.History("users").Count(context.Background(), document.Document{})
	require.NoError(t, err)
	return n
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "chronicle", cmd.Name)
	assert.NotEmpty(t, cmd.Description)

	for _, name := range []string{"history", "export", "archive", "restore", "prune", "policy"} {
		sub, ok := cmd.Subcommands[name]
		require.True(t, ok, "missing %s", name)
		assert.Equal(t, name, sub.Name)
		assert.NotNil(t, sub.Run)
		assert.NotNil(t, sub.Flags)
	}
}

func TestExecuteUsage(t *testing.T) {
	env, out := newTestEnv(t, false)

	require.NoError(t, NewRootCommand().Execute(context.Background(), env, nil))
	text := out.String()
	assert.Contains(t, text, "Usage: chronicle <command>")
	assert.Less(t, strings.Index(text, "archive"), strings.Index(text, "prune"))
}

func TestExecuteUnknownCommand(t *testing.T) {
	env, _ := newTestEnv(t, false)

	err := NewRootCommand().Execute(context.Background(), env, []string{"nope"})
	assert.EqualError(t, err, "unknown command: nope")
}

func TestHistoryCommand(t *testing.T) {
	env, out := newTestEnv(t, false)
	root := NewRootCommand()

	err := root.Execute(context.Background(), env, []string{"history", "-collection", "users", "-id", "1", "-format", "ndjson"})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)

	err = root.Execute(context.Background(), env, []string{"history", "-collection", "users"})
	assert.EqualError(t, err, "-id is required")

	err = root.Execute(context.Background(), env, []string{"history", "-id", "1"})
	assert.EqualError(t, err, "-collection is required")

	err = root.Execute(context.Background(), env, []string{"history", "-collection", "users", "-id", "1", "-format", "xml"})
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	env, out := newTestEnv(t, false)
	root := NewRootCommand()

	require.NoError(t, root.Execute(context.Background(), env, []string{"export", "-collection", "users", "-format", "csv"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "_id,_docId,_version,_lastChange"))

	out.Reset()
	require.NoError(t, root.Execute(context.Background(), env, []string{"export", "-collection", "users", "-before", "2024-01-01T00:00:00Z"}))
	assert.Empty(t, strings.TrimSpace(out.String()))

	path := filepath.Join(t.TempDir(), "users.ndjson")
	out.Reset()
	require.NoError(t, root.Execute(context.Background(), env, []string{"export", "-collection", "users", "-limit", "1", "-out", path}))
	assert.Contains(t, out.String(), "Exported 1 rows")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))

	assert.Error(t, root.Execute(context.Background(), env, []string{"export", "-collection", "users", "-before", "yesterday"}))
	assert.Error(t, root.Execute(context.Background(), env, []string{"export", "-collection", "users", "-limit", "-1"}))
}

func TestArchiveAndRestoreCommands(t *testing.T) {
	env, out := newTestEnv(t, true)
	root := NewRootCommand()
	ctx := context.Background()

	require.NoError(t, root.Execute(ctx, env, []string{"archive", "-collection", "users", "-before", "2024-03-01T00:00:00Z", "-delete"}))
	assert.Contains(t, out.String(), "Archived 2 rows")
	assert.Contains(t, out.String(), "Deleted 2 rows from users_history")
	assert.Zero(t, historyRows(t, env))

	out.Reset()
	require.NoError(t, root.Execute(ctx, env, []string{"archive", "-collection", "users", "-list"}))
	key := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(key, "history/users/"), key)

	out.Reset()
	require.NoError(t, root.Execute(ctx, env, []string{"archive", "-collection", "users"}))
	assert.Contains(t, out.String(), "Nothing to archive")

	out.Reset()
	require.NoError(t, root.Execute(ctx, env, []string{"restore", "-collection", "users", "-key", key}))
	assert.Contains(t, out.String(), "Restored 2 rows into users_history")
	assert.EqualValues(t, 2, historyRows(t, env))

	assert.EqualError(t, root.Execute(ctx, env, []string{"restore", "-collection", "users"}), "-key is required")
}

func TestArchiveRequiresBucket(t *testing.T) {
	env, _ := newTestEnv(t, false)

	err := NewRootCommand().Execute(context.Background(), env, []string{"archive", "-collection", "users"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive bucket configured")

	err = NewRootCommand().Execute(context.Background(), env, []string{"prune", "-collection", "users", "-archive"})
	assert.Error(t, err)
}

func TestPruneCommand(t *testing.T) {
	env, out := newTestEnv(t, false)
	root := NewRootCommand()

	require.NoError(t, root.Execute(context.Background(), env, []string{"prune", "-collection", "users", "-max-age", "24h"}))
	assert.Contains(t, out.String(), "Pruned 2 rows")
	assert.Zero(t, historyRows(t, env))

	assert.Error(t, root.Execute(context.Background(), env, []string{"prune", "-collection", "users", "-max-age", "0s"}))
}

func TestPruneCommandArchives(t *testing.T) {
	env, out := newTestEnv(t, true)

	require.NoError(t, NewRootCommand().Execute(context.Background(), env, []string{"prune", "-collection", "users", "-max-age", "24h", "-archive"}))
	assert.Contains(t, out.String(), "Pruned 2 rows")
	assert.Contains(t, out.String(), "Archived to history/users/")
}

func TestPolicyCommand(t *testing.T) {
	env, out := newTestEnv(t, false)
	root := NewRootCommand()

	require.NoError(t, root.Execute(context.Background(), env, []string{"policy", "-collection", "users"}))
	assert.Contains(t, out.String(), "Audited:    true")
	assert.Contains(t, out.String(), "History:    users_history")
	assert.Contains(t, out.String(), "Rows:       2")

	out.Reset()
	require.NoError(t, root.Execute(context.Background(), env, []string{"policy", "-collection", "users_history"}))
	assert.Contains(t, out.String(), "Audited:    false")
	assert.NotContains(t, out.String(), "Rows:")
}

func TestNewEnv(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{Storage: storage.DefaultConfig()}
	env, err := NewEnv(ctx, cfg, &bytes.Buffer{}, logger)
	require.NoError(t, err)
	assert.Nil(t, env.Archiver)
	assert.True(t, env.DB.Policy().Audited("users"))
	require.NoError(t, env.Close(ctx))

	cfg.Audit.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewEnv(ctx, cfg, &bytes.Buffer{}, logger)
	assert.Error(t, err)
}
