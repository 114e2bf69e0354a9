// Package backend opens the storage.Database selected by a storage.Config.
package backend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/filesystem"
	"github.com/platinummonkey/chronicle/pkg/storage/memory"
	"github.com/platinummonkey/chronicle/pkg/storage/mongo"
	"github.com/platinummonkey/chronicle/pkg/storage/postgres"
	"github.com/platinummonkey/chronicle/pkg/storage/redisstore"
	"github.com/platinummonkey/chronicle/pkg/storage/sqldoc"
	"github.com/platinummonkey/chronicle/pkg/storage/sqlite"
)

// Supported backend type names.
const (
	Memory     = "memory"
	Filesystem = "filesystem"
	SQLite     = "sqlite"
	Postgres   = "postgres"
	Redis      = "redis"
	Mongo      = "mongo"
)

// Types lists every supported backend type.
var Types = []string{Memory, Filesystem, SQLite, Postgres, Redis, Mongo}

// Open opens the backend named by cfg.Type. metrics may be nil.
func Open(ctx context.Context, cfg storage.Config, logger *logrus.Logger, metrics *observability.OTelMetrics) (storage.Database, error) {
	if logger == nil {
		logger = logrus.New()
	}
	sqlOpts := []sqldoc.Option{sqldoc.WithLogger(logger), sqldoc.WithMetrics(metrics)}

	var (
		db  storage.Database
		err error
	)
	switch cfg.Type {
	case Memory, "":
		db = memory.New()
	case Filesystem:
		db, err = filesystem.New(cfg.FilesystemRoot)
	case SQLite:
		db, err = sqlite.Open(ctx, cfg.SQLitePath, sqlOpts...)
	case Postgres:
		db, err = postgres.Open(ctx, cfg, logger, sqlOpts...)
	case Redis:
		db, err = redisstore.Open(ctx, cfg, logger)
	case Mongo:
		db, err = mongo.Open(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q (supported: %v)", cfg.Type, Types)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Type, err)
	}

	logger.WithField("type", cfg.Type).Info("Storage backend opened")
	return db, nil
}
