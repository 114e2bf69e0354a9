// Package filesystem stores each collection as a file of newline-delimited
// canonical Extended JSON documents. A lock file per collection serializes
// access across processes; within a process a mutex does.
package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/storage/engine"
)

const (
	fileExt = ".ndjson"

	lockTimeout = 5 * time.Second
	lockRetry   = 20 * time.Millisecond
)

// ErrInvalidName is returned for collection names that are not plain file
// names.
var ErrInvalidName = errors.New("filesystem: invalid collection name")

// Database is a directory of collection files.
type Database struct {
	root string

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// New opens (and creates) the database directory root.
func New(root string) (*Database, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return &Database{root: root, collections: make(map[string]*Collection)}, nil
}

// Collection implements storage.Database. Invalid names produce a handle
// whose operations fail with ErrInvalidName.
func (db *Database) Collection(name string) storage.Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[name]; ok {
		return c
	}
	c := &Collection{
		name: name,
		db:   db,
		path: filepath.Join(db.root, name+fileExt),
		lock: flock.New(filepath.Join(db.root, name+".lock")),
	}
	if !validName(name) {
		c.err = fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	db.collections[name] = c
	return c
}

// Ping implements storage.Database.
func (db *Database) Ping(ctx context.Context) error {
	if err := db.check(); err != nil {
		return err
	}
	info, err := os.Stat(db.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", db.root)
	}
	return nil
}

// Close implements storage.Database.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

func (db *Database) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	return nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}

// Collection is a file-backed storage.Collection.
type Collection struct {
	name string
	db   *Database
	path string
	lock *flock.Flock
	err  error

	mu sync.Mutex
}

// Name implements storage.Collection.
func (c *Collection) Name() string {
	return c.name
}

// Insert implements storage.Collection.
func (c *Collection) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, func(set *engine.Set) (err error) {
		res, err = set.Insert(docs...)
		return err
	})
	return res, err
}

// Save implements storage.Collection.
func (c *Collection) Save(ctx context.Context, doc document.Document) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, func(set *engine.Set) (err error) {
		res, err = set.Save(doc)
		return err
	})
	return res, err
}

// Update implements storage.Collection.
func (c *Collection) Update(ctx context.Context, filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, func(set *engine.Set) (err error) {
		res, err = set.Update(filter, modifier, opts)
		return err
	})
	return res, err
}

// Delete implements storage.Collection.
func (c *Collection) Delete(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, func(set *engine.Set) (err error) {
		res, err = set.Delete(filter)
		return err
	})
	return res, err
}

// FindAndModify implements storage.Collection.
func (c *Collection) FindAndModify(ctx context.Context, filter document.Document, opts storage.FindAndModifyOptions) (document.Document, bool, error) {
	var (
		doc   document.Document
		found bool
	)
	err := c.write(ctx, func(set *engine.Set) (err error) {
		doc, found, err = set.FindAndModify(filter, opts)
		return err
	})
	return doc, found, err
}

// Find implements storage.Collection.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	var docs []document.Document
	err := c.read(ctx, func(set *engine.Set) (err error) {
		docs, err = set.Find(filter, opts)
		return err
	})
	return docs, err
}

// Count implements storage.Collection.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	var n int64
	err := c.read(ctx, func(set *engine.Set) (err error) {
		n, err = set.Count(filter)
		return err
	})
	return n, err
}

func (c *Collection) read(ctx context.Context, fn func(*engine.Set) error) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := c.lock.TryRLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire read lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire read lock on %s", c.name)
	}
	defer func() { _ = c.lock.Unlock() }()

	set, err := c.load()
	if err != nil {
		return err
	}
	return fn(set)
}

// write runs fn under the exclusive lock and rewrites the file when fn
// changed anything.
func (c *Collection) write(ctx context.Context, fn func(*engine.Set) error) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := c.lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire write lock on %s", c.name)
	}
	defer func() { _ = c.lock.Unlock() }()

	set, err := c.load()
	if err != nil {
		return err
	}
	if err := fn(set); err != nil {
		return err
	}
	if set.Changes().Empty() {
		return nil
	}
	return c.store(set.Docs())
}

func (c *Collection) ready() error {
	if c.err != nil {
		return c.err
	}
	return c.db.check()
}

func (c *Collection) load() (*engine.Set, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return engine.NewSet(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	var docs []document.Document
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		doc, err := codec.Unmarshal(text)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", c.path, line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", c.path, err)
	}
	return engine.NewSet(docs)
}

// store replaces the collection file through a rename so readers never see
// a partial file.
func (c *Collection) store(docs []document.Document) error {
	var buf bytes.Buffer
	for _, d := range docs {
		data, err := codec.Marshal(d)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+c.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", c.path, err)
	}
	return nil
}
