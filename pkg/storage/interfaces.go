package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/chronicle/pkg/document"
)

var (
	// ErrDuplicateKey is returned when an insert collides on _id.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrUnsupportedOperator is returned for filter or modifier operators a
	// backend cannot evaluate.
	ErrUnsupportedOperator = errors.New("storage: unsupported operator")

	// ErrConflict is returned when an optimistic transaction kept losing
	// against concurrent writers.
	ErrConflict = errors.New("storage: concurrent modification")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("storage: database closed")
)

// Database hands out collections by name.
type Database interface {
	// Collection returns a handle for the named collection. Handles are cheap
	// and safe for concurrent use.
	Collection(name string) Collection

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// DocumentReader reads documents.
type DocumentReader interface {
	// Find returns every document matching filter.
	Find(ctx context.Context, filter document.Document, opts FindOptions) ([]document.Document, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter document.Document) (int64, error)
}

// DocumentWriter writes documents.
type DocumentWriter interface {
	// Insert stores new documents. Documents without _id get a generated
	// ObjectID; the ids of all inserted documents are reported in order in
	// WriteResult.InsertedIDs.
	Insert(ctx context.Context, docs ...document.Document) (WriteResult, error)

	// Save replaces the document with the same _id or inserts it.
	Save(ctx context.Context, doc document.Document) (WriteResult, error)

	// Update applies modifier to the documents matching filter.
	Update(ctx context.Context, filter, modifier document.Document, opts UpdateOptions) (WriteResult, error)

	// Delete removes every document matching filter.
	Delete(ctx context.Context, filter document.Document) (WriteResult, error)
}

// AtomicModifier runs single-document fetch-and-mutate operations.
type AtomicModifier interface {
	// FindAndModify atomically updates or removes the first document matching
	// filter and returns it. The boolean is false when nothing matched and
	// nothing was upserted.
	FindAndModify(ctx context.Context, filter document.Document, opts FindAndModifyOptions) (document.Document, bool, error)
}

// Collection is the store driver surface the audit pipelines need.
type Collection interface {
	Name() string
	DocumentReader
	DocumentWriter
	AtomicModifier
}

// FindOptions tune Find.
type FindOptions struct {
	Sort       document.Document
	Projection document.Document
	Limit      int64
}

// UpdateOptions tune Update.
type UpdateOptions struct {
	Upsert bool
	Multi  bool
}

// FindAndModifyOptions tune FindAndModify.
type FindAndModifyOptions struct {
	Projection document.Document
	Sort       document.Document
	Update     document.Document
	Remove     bool
	ReturnNew  bool
	Upsert     bool
}

// WriteResult describes the outcome of a write.
type WriteResult struct {
	Acknowledged bool
	Inserted     int64
	Matched      int64
	Modified     int64
	Upserted     int64
	Deleted      int64
	UpsertedID   any
	InsertedIDs  []any
}

// Config selects and configures a storage backend.
type Config struct {
	Type string // "memory", "filesystem", "sqlite", "postgres", "redis", "mongo"

	// Filesystem config
	FilesystemRoot string

	// SQLite config
	SQLitePath string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string

	// MongoDB config
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		FilesystemRoot:   "/tmp/chronicle",
		SQLitePath:       "/tmp/chronicle/chronicle.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		RedisKeyPrefix:   "chronicle",
		MongoDatabase:    "chronicle",
		MongoTimeout:     10 * time.Second,
	}
}
