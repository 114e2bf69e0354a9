// Package redisstore keeps each collection in a Redis hash of canonical
// Extended JSON bodies keyed by _id, plus a sorted set holding insertion
// order. Writes are optimistic: the keys are WATCHed, the change is computed
// in process and committed with MULTI/EXEC, and a lost race is retried.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/storage/engine"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
)

const defaultMaxRetries = 10

// Database is a Redis-backed storage.Database.
type Database struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	log        *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// Open connects using the Redis fields of cfg.
func Open(ctx context.Context, cfg storage.Config, logger *logrus.Logger) (*Database, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.RedisKeyPrefix, logger), nil
}

// New wraps a client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string, logger *logrus.Logger) *Database {
	if logger == nil {
		logger = logrus.New()
	}
	return &Database{client: client, prefix: prefix, maxRetries: defaultMaxRetries, log: logger}
}

// Collection implements storage.Database.
func (db *Database) Collection(name string) storage.Collection {
	base := "coll:" + name
	if db.prefix != "" {
		base = db.prefix + ":" + base
	}
	return &Collection{
		name:     name,
		db:       db,
		docsKey:  base + ":docs",
		orderKey: base + ":order",
		seqKey:   base + ":seq",
	}
}

// Ping implements storage.Database.
func (db *Database) Ping(ctx context.Context) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.client.Ping(ctx).Err()
}

// Close implements storage.Database.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.client.Close()
}

func (db *Database) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	return nil
}

// Collection is a Redis-backed storage.Collection.
type Collection struct {
	name     string
	db       *Database
	docsKey  string
	orderKey string
	seqKey   string
}

// Name implements storage.Collection.
func (c *Collection) Name() string {
	return c.name
}

// Insert implements storage.Collection.
func (c *Collection) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	var ids []any
	for _, d := range docs {
		if id, ok := d.Lookup(document.IDField); ok {
			ids = append(ids, id)
		}
	}
	var res storage.WriteResult
	err := c.write(ctx, scope{ids: ids}, func(set *engine.Set) (err error) {
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
	err := c.write(ctx, sc, func(set *engine.Set) (err error) {
		res, err = set.Save(doc)
		return err
	})
	return res, err
}

// Update implements storage.Collection.
func (c *Collection) Update(ctx context.Context, filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, scopeOf(filter), func(set *engine.Set) (err error) {
		res, err = set.Update(filter, modifier, opts)
		return err
	})
	return res, err
}

// Delete implements storage.Collection.
func (c *Collection) Delete(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	var res storage.WriteResult
	err := c.write(ctx, scopeOf(filter), func(set *engine.Set) (err error) {
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
	err := c.write(ctx, scopeOf(filter), func(set *engine.Set) (err error) {
		doc, found, err = set.FindAndModify(filter, opts)
		return err
	})
	return doc, found, err
}

// Find implements storage.Collection.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	if err := c.db.check(); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.db.client, scopeOf(filter))
	if err != nil {
		return nil, err
	}
	set, err := engine.NewSet(docs)
	if err != nil {
		return nil, err
	}
	return set.Find(filter, opts)
}

// Count implements storage.Collection.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	if len(filter) == 0 {
		if err := c.db.check(); err != nil {
			return 0, err
		}
		return c.db.client.HLen(ctx, c.docsKey).Result()
	}
	docs, err := c.Find(ctx, filter, storage.FindOptions{})
	return int64(len(docs)), err
}

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

// write retries fn until its transaction commits without a concurrent
// change to the collection keys.
func (c *Collection) write(ctx context.Context, sc scope, fn func(*engine.Set) error) error {
	if err := c.db.check(); err != nil {
		return err
	}

	for attempt := 0; attempt < c.db.maxRetries; attempt++ {
		err := c.db.client.Watch(ctx, func(tx *redis.Tx) error {
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
				return nil
			}
			return c.commit(ctx, tx, changes)
		}, c.docsKey, c.orderKey)

		if errors.Is(err, redis.TxFailedErr) {
			c.db.log.WithFields(logrus.Fields{
				"collection": c.name,
				"attempt":    attempt + 1,
			}).Debug("redis transaction conflict, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s after %d attempts", storage.ErrConflict, c.name, c.db.maxRetries)
}

func (c *Collection) commit(ctx context.Context, tx *redis.Tx, changes engine.Changes) error {
	type entry struct {
		key  string
		body string
	}
	puts := make([]entry, 0, len(changes.Put))
	for _, doc := range changes.Put {
		key, err := query.IDKey(doc.Get(document.IDField))
		if err != nil {
			return err
		}
		body, err := codec.Marshal(doc)
		if err != nil {
			return err
		}
		puts = append(puts, entry{key: key, body: string(body)})
	}
	deletes := make([]string, 0, len(changes.Deleted))
	for _, id := range changes.Deleted {
		key, err := query.IDKey(id)
		if err != nil {
			return err
		}
		deletes = append(deletes, key)
	}

	var seq int64
	if len(puts) > 0 {
		end, err := tx.IncrBy(ctx, c.seqKey, int64(len(puts))).Result()
		if err != nil {
			return fmt.Errorf("failed to reserve order: %w", err)
		}
		seq = end - int64(len(puts)) + 1
	}

	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(deletes) > 0 {
			members := make([]any, len(deletes))
			for i, key := range deletes {
				members[i] = key
			}
			pipe.HDel(ctx, c.docsKey, deletes...)
			pipe.ZRem(ctx, c.orderKey, members...)
		}
		for i, p := range puts {
			pipe.HSet(ctx, c.docsKey, p.key, p.body)
			// NX keeps the original position of documents that already exist.
			pipe.ZAddNX(ctx, c.orderKey, &redis.Z{Score: float64(seq + int64(i)), Member: p.key})
		}
		return nil
	})
	return err
}

// reader is satisfied by *redis.Client and *redis.Tx.
type reader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (c *Collection) load(ctx context.Context, r reader, sc scope) ([]document.Document, error) {
	if !sc.all {
		return c.loadKeys(ctx, r, sc.ids)
	}

	bodies, err := r.HGetAll(ctx, c.docsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	order, err := r.ZRange(ctx, c.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read order of %s: %w", c.name, err)
	}

	docs := make([]document.Document, 0, len(bodies))
	for _, key := range order {
		body, ok := bodies[key]
		if !ok {
			continue
		}
		delete(bodies, key)
		doc, err := codec.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.name, key, err)
		}
		docs = append(docs, doc)
	}

	// Entries missing from the order set sort last, by key.
	rest := make([]string, 0, len(bodies))
	for key := range bodies {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	for _, key := range rest {
		doc, err := codec.Unmarshal([]byte(bodies[key]))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.name, key, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Collection) loadKeys(ctx context.Context, r reader, ids []any) ([]document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key, err := query.IDKey(id)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	values, err := r.HMGet(ctx, c.docsKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	var docs []document.Document
	for i, v := range values {
		body, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := codec.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.name, keys[i], err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
