// Package memory is an in-process storage backend. Every collection is an
// engine.Set behind a mutex.
package memory

import (
	"context"
	"sync"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/engine"
)

// Database holds collections in memory.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// New creates an empty in-memory database.
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection implements storage.Database.
func (db *Database) Collection(name string) storage.Collection {
	return db.collection(name)
}

func (db *Database) collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[name]; ok {
		return c
	}
	set, _ := engine.NewSet(nil)
	set.DisableTracking()
	c := &Collection{name: name, db: db, set: set}
	db.collections[name] = c
	return c
}

// Ping implements storage.Database.
func (db *Database) Ping(ctx context.Context) error {
	return db.check()
}

// Close implements storage.Database. Data is dropped.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.collections = make(map[string]*Collection)
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

// Collection is an in-memory storage.Collection.
type Collection struct {
	name string
	db   *Database

	mu  sync.RWMutex
	set *engine.Set
}

// Name implements storage.Collection.
func (c *Collection) Name() string {
	return c.name
}

// Insert implements storage.Collection.
func (c *Collection) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	if err := c.db.check(); err != nil {
		return storage.WriteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Insert(docs...)
}

// Save implements storage.Collection.
func (c *Collection) Save(ctx context.Context, doc document.Document) (storage.WriteResult, error) {
	if err := c.db.check(); err != nil {
		return storage.WriteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Save(doc)
}

// Update implements storage.Collection.
func (c *Collection) Update(ctx context.Context, filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	if err := c.db.check(); err != nil {
		return storage.WriteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Update(filter, modifier, opts)
}

// Delete implements storage.Collection.
func (c *Collection) Delete(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	if err := c.db.check(); err != nil {
		return storage.WriteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Delete(filter)
}

// Find implements storage.Collection.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	if err := c.db.check(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.Find(filter, opts)
}

// Count implements storage.Collection.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	if err := c.db.check(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.Count(filter)
}

// FindAndModify implements storage.Collection.
func (c *Collection) FindAndModify(ctx context.Context, filter document.Document, opts storage.FindAndModifyOptions) (document.Document, bool, error) {
	if err := c.db.check(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.FindAndModify(filter, opts)
}
