// Package postgres is the PostgreSQL dialect of the sqldoc backend. Writes
// go to the primary; Find and Count go to a replica when replicas are
// configured, so audit pre-images may lag the primary by the replication
// delay.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/sqldoc"
)

const uniqueViolation = "23505"

// Dialect implements sqldoc.Dialect for PostgreSQL.
type Dialect struct{}

// Name implements sqldoc.Dialect.
func (Dialect) Name() string { return "postgres" }

// Placeholder implements sqldoc.Dialect.
func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// CreateTable implements sqldoc.Dialect.
func (Dialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq  BIGSERIAL,
	id   TEXT PRIMARY KEY,
	body TEXT NOT NULL
)`, table)
}

// LockTable implements sqldoc.Dialect. The mode conflicts with itself, so
// writers queue while plain reads continue.
func (Dialect) LockTable(table string) string {
	return "LOCK TABLE " + table + " IN SHARE ROW EXCLUSIVE MODE"
}

// IsUniqueViolation implements sqldoc.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Database is a sqldoc database over a primary and optional replicas.
type Database struct {
	*sqldoc.Database
	conns *ConnectionManager
}

// Open connects using cfg.PostgresURL and cfg.PostgresReplicaURLs.
func Open(ctx context.Context, cfg storage.Config, logger *logrus.Logger, opts ...sqldoc.Option) (*Database, error) {
	conns, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.PostgresReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		return nil, err
	}
	return newDatabase(ctx, conns, logger, opts...), nil
}

func newDatabase(ctx context.Context, conns *ConnectionManager, logger *logrus.Logger, opts ...sqldoc.Option) *Database {
	base := []sqldoc.Option{
		sqldoc.WithReader(conns.Replica),
		sqldoc.WithCloser(conns.Close),
	}
	if logger != nil {
		base = append(base, sqldoc.WithLogger(logger))
	}
	if len(conns.config.ReplicaURLs) > 0 {
		conns.StartHealthCheckRoutine(ctx, 0)
	}
	return &Database{
		Database: sqldoc.New(conns.Primary(), Dialect{}, append(base, opts...)...),
		conns:    conns,
	}
}

// Ping checks the primary and the replicas.
func (db *Database) Ping(ctx context.Context) error {
	if err := db.Database.Ping(ctx); err != nil {
		return err
	}
	return db.conns.HealthCheck(ctx)
}

// Connections returns the connection manager.
func (db *Database) Connections() *ConnectionManager {
	return db.conns
}
