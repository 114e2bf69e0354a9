// Package sqldoc stores documents in SQL tables, one table per collection.
// Filters and modifiers are evaluated in process by the engine package over
// the rows an operation can touch: the single row when the filter pins an
// _id, the whole table otherwise. Every write runs in one transaction.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/storage/engine"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
)

// Database is a SQL-backed storage.Database.
type Database struct {
	writer  *sql.DB
	reader  func() *sql.DB
	dialect Dialect
	closer  func() error
	log     *logrus.Logger
	metrics *observability.OTelMetrics

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// Option configures a Database.
type Option func(*Database)

// WithReader routes Find and Count to the pool fn returns.
func WithReader(fn func() *sql.DB) Option {
	return func(db *Database) { db.reader = fn }
}

// WithCloser replaces closing the writer pool on Close.
func WithCloser(fn func() error) Option {
	return func(db *Database) { db.closer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(db *Database) { db.log = l }
}

// WithMetrics records every statement batch as a storage operation.
func WithMetrics(m *observability.OTelMetrics) Option {
	return func(db *Database) { db.metrics = m }
}

// New wraps an open connection pool.
func New(writer *sql.DB, dialect Dialect, opts ...Option) *Database {
	db := &Database{
		writer:      writer,
		dialect:     dialect,
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.reader == nil {
		db.reader = func() *sql.DB { return db.writer }
	}
	if db.closer == nil {
		db.closer = writer.Close
	}
	if db.log == nil {
		db.log = logrus.New()
	}
	return db
}

// Collection implements storage.Database.
func (db *Database) Collection(name string) storage.Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[name]; ok {
		return c
	}
	c := &Collection{name: name, table: QuoteIdent(name), db: db}
	db.collections[name] = c
	return c
}

// Ping implements storage.Database.
func (db *Database) Ping(ctx context.Context) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.writer.PingContext(ctx)
}

// Close implements storage.Database.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	return db.closer()
}

func (db *Database) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	return nil
}

// Collection is a table of documents.
type Collection struct {
	name  string
	table string
	db    *Database

	ensureMu sync.Mutex
	ensured  bool
}

// Name implements storage.Collection.
func (c *Collection) Name() string {
	return c.name
}

// Insert implements storage.Collection.
func (c *Collection) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	sc := scope{}
	for _, d := range docs {
		if id, ok := d.Lookup(document.IDField); ok {
			sc.ids = append(sc.ids, id)
		}
	}
	var res storage.WriteResult
	err := c.write(ctx, "insert", sc, func(set *engine.Set) (err error) {
		res, err = set.Insert(docs...)
		return err
	})
	return res, err
}

// Save implements storage.Collection.
func (c *Collection) Save(ctx context.Context, doc document.Document) (storage.WriteResult, error) {
	sc := scope{}
	if id, ok := doc.Lookup(document.IDField); ok {
		sc.ids = []any{id}
	}
	var res storage.WriteResult
	err := c.write(ctx, "save", sc, func(set *engine.Set) (err error) {
		res, err = set.Save(doc)
		return err
	})
	return res, err
}

// Update implements storage.Collection.
func (c *Collection) Update(ctx context.Context, filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, "update", scopeOf(filter), func(set *engine.Set) (err error) {
		res, err = set.Update(filter, modifier, opts)
		return err
	})
	return res, err
}

// Delete implements storage.Collection.
func (c *Collection) Delete(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, "delete", scopeOf(filter), func(set *engine.Set) (err error) {
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
	err := c.write(ctx, "find_and_modify", scopeOf(filter), func(set *engine.Set) (err error) {
		doc, found, err = set.FindAndModify(filter, opts)
		return err
	})
	return doc, found, err
}

// Find implements storage.Collection.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	set, err := c.read(ctx, "find", scopeOf(filter))
	if err != nil {
		return nil, err
	}
	return set.Find(filter, opts)
}

// Count implements storage.Collection.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	set, err := c.read(ctx, "count", scopeOf(filter))
	if err != nil {
		return 0, err
	}
	return set.Count(filter)
}

// scope names the rows an operation may touch. A zero scope with no ids
// touches nothing; all loads the table.
type scope struct {
	all bool
	ids []any
}

func scopeOf(filter document.Document) scope {
	if id, ok := query.IDFromFilter(filter); ok {
		return scope{ids: []any{id}}
	}
	return scope{all: true}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Collection) read(ctx context.Context, op string, sc scope) (set *engine.Set, err error) {
	start := time.Now()
	defer func() { c.db.metrics.RecordStorageOperation(ctx, op, c.db.dialect.Name(), time.Since(start), 0, err) }()

	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.db.reader(), sc)
	if err != nil {
		return nil, err
	}
	return engine.NewSet(docs)
}

// write loads sc in a transaction, runs fn and persists what fn changed.
func (c *Collection) write(ctx context.Context, op string, sc scope, fn func(*engine.Set) error) (err error) {
	start := time.Now()
	defer func() { c.db.metrics.RecordStorageOperation(ctx, op, c.db.dialect.Name(), time.Since(start), 0, err) }()

	if err := c.ensure(ctx); err != nil {
		return err
	}

	tx, err := c.db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if stmt := c.db.dialect.LockTable(c.table); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to lock %s: %w", c.name, err)
		}
	}

	docs, err := c.load(ctx, tx, sc)
	if err != nil {
		return err
	}
	set, err := engine.NewSet(docs)
	if err != nil {
		return err
	}
	if err := fn(set); err != nil {
		return err
	}

	changes := set.Changes()
	if changes.Empty() {
		return tx.Commit()
	}
	if err := c.flush(ctx, tx, changes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	c.db.log.WithFields(logrus.Fields{
		"collection": c.name,
		"operation":  op,
		"put":        len(changes.Put),
		"deleted":    len(changes.Deleted),
	}).Debug("sql document changes committed")
	return nil
}

func (c *Collection) load(ctx context.Context, q queryer, sc scope) ([]document.Document, error) {
	if !sc.all && len(sc.ids) == 0 {
		return nil, nil
	}

	var args []any
	if !sc.all {
		seen := make(map[string]struct{}, len(sc.ids))
		for _, id := range sc.ids {
			key, err := query.IDKey(id)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			args = append(args, key)
		}
	}

	rows, err := q.QueryContext(ctx, selectSQL(c.db.dialect, c.table, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c.name, err)
		}
		doc, err := codec.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", key, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	return docs, nil
}

func (c *Collection) flush(ctx context.Context, q queryer, changes engine.Changes) error {
	for _, id := range changes.Deleted {
		key, err := query.IDKey(id)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, deleteSQL(c.db.dialect, c.table), key); err != nil {
			return fmt.Errorf("failed to delete %v: %w", id, err)
		}
	}

	upsert := upsertSQL(c.db.dialect, c.table)
	for _, doc := range changes.Put {
		id := doc.Get(document.IDField)
		key, err := query.IDKey(id)
		if err != nil {
			return err
		}
		body, err := codec.Marshal(doc)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, upsert, key, string(body)); err != nil {
			if c.db.dialect.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, id)
			}
			return fmt.Errorf("failed to write %v: %w", id, err)
		}
	}
	return nil
}

func (c *Collection) ensure(ctx context.Context) error {
	if err := c.db.check(); err != nil {
		return err
	}
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensured {
		return nil
	}
	if _, err := c.db.writer.ExecContext(ctx, c.db.dialect.CreateTable(c.table)); err != nil {
		return fmt.Errorf("failed to create table for %s: %w", c.name, err)
	}
	c.ensured = true
	return nil
}
