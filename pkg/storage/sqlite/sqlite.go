// Package sqlite is the SQLite dialect of the sqldoc backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/chronicle/pkg/storage/sqldoc"
)

// Dialect implements sqldoc.Dialect for SQLite.
type Dialect struct{}

// Name implements sqldoc.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Placeholder implements sqldoc.Dialect.
func (Dialect) Placeholder(int) string { return "?" }

// CreateTable implements sqldoc.Dialect.
func (Dialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	id   TEXT NOT NULL UNIQUE,
	body TEXT NOT NULL
)`, table)
}

// LockTable implements sqldoc.Dialect. Transactions begin IMMEDIATE, which
// already takes the database write lock.
func (Dialect) LockTable(string) string { return "" }

// IsUniqueViolation implements sqldoc.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Open opens (and creates) the database file at path. ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string, opts ...sqldoc.Option) (*sqldoc.Database, error) {
	dsn := ":memory:?_txlock=immediate"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection keeps in-memory databases alive and avoids SQLITE_BUSY
	// between connections of this process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return sqldoc.New(db, Dialect{}, opts...), nil
}
