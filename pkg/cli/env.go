package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/storage/backend"
)

// NewEnv opens the configured backend and, when a bucket is configured,
// the archive.
func NewEnv(ctx context.Context, cfg *config.Config, out io.Writer, logger *logrus.Logger) (*Env, error) {
	policy, err := cfg.Audit.LoadPolicy()
	if err != nil {
		return nil, err
	}

	driver, err := backend.Open(ctx, cfg.Storage, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}

	db, err := chronicle.New(driver, policy, chronicle.WithLogger(logger))
	if err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	env := &Env{DB: db, Out: out, Logger: logger}
	if cfg.Archive.Enabled() {
		store, err := archive.NewS3Store(ctx, cfg.Archive.S3)
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to open archive bucket: %w", err)
		}
		env.Archiver = archive.NewArchiver(store,
			archive.WithPrefix(cfg.Archive.Prefix),
			archive.WithLogger(logger),
		)
	}
	return env, nil
}

// Close releases the storage backend.
func (e *Env) Close(ctx context.Context) error {
	return e.DB.Close(ctx)
}
