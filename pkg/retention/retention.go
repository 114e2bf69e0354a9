// Package retention prunes old history rows on a schedule.
//
// Only history collections are touched. A row is pruned once its
// _lastChange is older than the configured maximum age. When an archiver is
// configured the rows are uploaded before they are deleted, and a failed
// upload leaves them in place.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// Config configures a Pruner.
type Config struct {
	MaxAge      time.Duration
	Collections []string
	Concurrency int
}

// Result reports one pruned collection.
type Result struct {
	Collection string
	Cutoff     time.Time
	Pruned     int64
	ArchiveKey string
}

// Pruner deletes expired history rows.
type Pruner struct {
	db          *chronicle.DB
	cfg         Config
	archiver    *archive.Archiver
	now         func() time.Time
	logger      *logrus.Logger
	otelMetrics *observability.OTelMetrics
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithArchiver uploads rows before pruning them.
func WithArchiver(a *archive.Archiver) Option {
	return func(p *Pruner) { p.archiver = a }
}

// WithClock overrides the clock used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Pruner) { p.logger = logger }
}

// WithMetrics records each run as a job.
func WithMetrics(m *observability.OTelMetrics) Option {
	return func(p *Pruner) { p.otelMetrics = m }
}

// NewPruner creates a pruner for the collections of db.
func NewPruner(db *chronicle.DB, cfg Config, opts ...Option) (*Pruner, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	p := &Pruner{
		db:     db,
		cfg:    cfg,
		now:    time.Now,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Cutoff returns the time before which rows are pruned.
func (p *Pruner) Cutoff() time.Time {
	return p.now().UTC().Add(-p.cfg.MaxAge)
}

// PruneCollection prunes the history of the live collection name.
func (p *Pruner) PruneCollection(ctx context.Context, name string) (Result, error) {
	cutoff := p.Cutoff()
	result := Result{Collection: name, Cutoff: cutoff}
	hist := p.db.History(name).Live()

	if p.archiver != nil {
		res, err := p.archiver.Archive(ctx, name, hist, archive.Options{
			Before:         cutoff,
			DeleteArchived: true,
		})
		if err != nil {
			return result, fmt.Errorf("failed to archive %s: %w", name, err)
		}
		result.Pruned = res.Deleted
		result.ArchiveKey = res.Key
		return result, nil
	}

	res, err := hist.Delete(ctx, document.New(versioning.LastChangeField, document.New("$lt", cutoff)))
	if err != nil {
		return result, fmt.Errorf("failed to prune %s: %w", hist.Name(), err)
	}
	result.Pruned = res.Deleted
	return result, nil
}

// Run prunes every configured collection concurrently. Results are returned
// in configuration order; a failed collection does not stop the others.
func (p *Pruner) Run(ctx context.Context) (results []Result, err error) {
	start := time.Now()
	defer func() {
		p.otelMetrics.RecordJob(ctx, "retention", time.Since(start), err)
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)

	results = make([]Result, len(p.cfg.Collections))
	var (
		mu   sync.Mutex
		errs []error
	)
	for i, name := range p.cfg.Collections {
		eg.Go(func() error {
			res, err := p.PruneCollection(ctx, name)
			results[i] = res

			log := p.logger.WithFields(logrus.Fields{
				"collection": name,
				"cutoff":     res.Cutoff,
			})
			if err != nil {
				log.WithError(err).Error("History pruning failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			log.WithField("pruned", res.Pruned).Info("History pruned")
			return nil
		})
	}
	_ = eg.Wait()

	if len(errs) > 0 {
		return results, fmt.Errorf("%d of %d collections failed, first: %w", len(errs), len(p.cfg.Collections), errs[0])
	}
	return results, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	pruner  *Pruner
	timeout time.Duration
	logger  *logrus.Logger
}

// NewScheduler schedules pruner with a standard cron spec such as
// "0 3 * * *" or "@daily". Each run is bounded by timeout.
func NewScheduler(pruner *Pruner, schedule string, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		pruner:  pruner,
		timeout: timeout,
		logger:  pruner.logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule retention %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	defer observability.RecoverPanic(s.logger, "retention run")

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.logger.Info("Starting history retention run")
	if _, err := s.pruner.Run(ctx); err != nil {
		s.logger.WithError(err).Warn("History retention run finished with errors")
	}
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running prune to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
