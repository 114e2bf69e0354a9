// Package storage defines the store driver contract used by the chronicle
// audit pipelines, plus backend configuration.
//
// # Overview
//
// Chronicle never talks to a database directly. Every pipeline works against
// the Collection interface, which is the smallest surface that lets the three
// audited mutation paths (insert/save, update, find-and-modify) do their work:
//
//   - DocumentReader: Find and Count with a filter document
//   - DocumentWriter: Insert, Save (upsert by _id), Update, Delete
//   - AtomicModifier: FindAndModify, a single-document fetch-and-mutate
//
// A Database hands out Collection handles by name. The live collection and its
// history collection are two handles from the same Database.
//
// # Filters and modifiers
//
// Filters and modifiers are plain documents in MongoDB syntax:
//
//	filter := document.New("name", "A")
//	modifier := document.New("$set", document.New("name", "B"))
//
// The mongo backend passes them through to the server. Every other backend
// evaluates them in process with the storage/query package, which supports
// the comparison, logical and element operators listed there plus the $set,
// $unset, $inc and $setOnInsert update operators.
//
// # Backend Implementations
//
// memory: in-process maps guarded by a mutex. Used by tests and examples.
//
//	db := memory.New()
//
// filesystem: one JSON file per collection, guarded by a cross-process file
// lock. Best for single-node tools and local development.
//
//	db, err := filesystem.New("/var/lib/chronicle")
//
// sqlite and postgres: one table per collection with an id column and the
// document body as canonical Extended JSON. FindAndModify runs inside a
// transaction.
//
//	db, err := postgres.Open(ctx, storage.Config{PostgresURL: "postgres://localhost/chronicle"})
//
// redis: one hash per collection. FindAndModify uses WATCH/MULTI and retries
// a bounded number of times before returning ErrConflict.
//
// mongo: the MongoDB Go driver. FindAndModify maps to FindOneAndUpdate,
// FindOneAndReplace or FindOneAndDelete.
//
// # Consistency
//
// Backends guarantee atomicity per call only. The audit layer issues several
// calls per mutation and documents the resulting race windows in the
// collection package.
//
// # Configuration
//
// Backends are selected through Config, usually loaded by the config package:
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = "redis"
//	cfg.RedisURL = "redis://localhost:6379/0"
//	db, err := backend.Open(ctx, cfg)
package storage
