// Package chronicle pairs live collections with their history collections
// according to an audit policy.
//
//	db, err := chronicle.New(driver, audit.DefaultPolicy())
//	users := db.Collection("users")
//	_, err = users.Save(ctx, &User{Name: "A"})
//
// Handles are cached; the pipelines behind them hold no per-call state.
package chronicle

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/collection"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

// DefaultCacheSize bounds the number of cached collection handles.
const DefaultCacheSize = 256

// DB hands out audited collections over a storage driver.
type DB struct {
	driver      storage.Database
	logger      *logrus.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	cacheSize   int
	collOpts    []collection.Option

	mu      sync.RWMutex
	policy  audit.Policy
	gen     uint64
	handles *lru.LRU[string, *collection.Collection]
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger shared by every collection.
func WithLogger(logger *logrus.Logger) Option {
	return func(db *DB) { db.logger = logger }
}

// WithMetrics records pipeline metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(db *DB) { db.metrics = metrics }
}

// WithOTelMetrics records handle cache hits and misses.
func WithOTelMetrics(metrics *observability.OTelMetrics) Option {
	return func(db *DB) { db.otelMetrics = metrics }
}

// WithCacheSize bounds the handle cache.
func WithCacheSize(n int) Option {
	return func(db *DB) { db.cacheSize = n }
}

// WithCollectionOptions appends options applied to every collection, such
// as a custom marshaller or stamper.
func WithCollectionOptions(opts ...collection.Option) Option {
	return func(db *DB) { db.collOpts = append(db.collOpts, opts...) }
}

// New creates a DB over driver.
func New(driver storage.Database, policy audit.Policy, opts ...Option) (*DB, error) {
	if driver == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	db := &DB{
		driver:    driver,
		policy:    policy,
		logger:    logrus.New(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.cacheSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", db.cacheSize)
	}
	db.handles = lru.NewLRU[string, *collection.Collection](db.cacheSize, nil, 0)
	return db, nil
}

// Collection returns the handle for name. When the policy audits name the
// handle copies every audited write to the paired history collection.
func (db *DB) Collection(name string) *collection.Collection {
	ctx := context.Background()

	db.mu.RLock()
	handle, ok := db.handles.Get(name)
	policy, gen := db.policy, db.gen
	db.mu.RUnlock()
	if ok {
		db.otelMetrics.RecordCacheHit(ctx, "collection")
		return handle
	}
	db.otelMetrics.RecordCacheMiss(ctx, "collection")

	opts := []collection.Option{collection.WithLogger(db.logger)}
	if db.metrics != nil {
		opts = append(opts, collection.WithMetrics(db.metrics))
	}
	if policy.Audited(name) {
		opts = append(opts, collection.WithHistory(db.driver.Collection(policy.HistoryName(name))))
	}
	opts = append(opts, db.collOpts...)
	handle = collection.New(db.driver.Collection(name), opts...)

	db.mu.Lock()
	// Skip caching when SetPolicy ran while the handle was built.
	if gen == db.gen {
		db.handles.Add(name, handle)
	}
	db.mu.Unlock()
	return handle
}

// History returns an unaudited handle on the history collection of name.
func (db *DB) History(name string) *collection.Collection {
	return db.Collection(db.Policy().HistoryName(name))
}

// Policy returns the current audit policy.
func (db *DB) Policy() audit.Policy {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.policy
}

// SetPolicy replaces the audit policy. Handles obtained earlier keep the
// policy they were created with.
func (db *DB) SetPolicy(policy audit.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.policy = policy
	db.gen++
	db.handles.Purge()
	db.logger.WithField("enabled", policy.Enabled).Info("Audit policy updated")
	return nil
}

// Driver returns the underlying storage driver.
func (db *DB) Driver() storage.Database {
	return db.driver
}

// Ping checks the driver is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.driver.Ping(ctx)
}

// Close purges cached handles and closes the driver.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	db.handles.Purge()
	db.mu.Unlock()
	return db.driver.Close(ctx)
}
