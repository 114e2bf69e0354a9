package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

const keyTimeLayout = "20060102T150405.000Z"

// Options selects the rows to archive.
type Options struct {
	// Before limits the archive to rows changed strictly before it. Zero
	// archives every row.
	Before time.Time

	// DeleteArchived removes the archived rows from the history collection
	// after the upload succeeded.
	DeleteArchived bool
}

// Result describes one archive run.
type Result struct {
	Collection string
	Key        string
	Rows       int
	Bytes      int
	Deleted    int64
}

// Archiver uploads history rows to an ObjectStore.
type Archiver struct {
	store   ObjectStore
	prefix  string
	now     func() time.Time
	logger  *logrus.Logger
	metrics *observability.OTelMetrics
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithPrefix prepends prefix to every object key.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) { a.prefix = prefix }
}

// WithClock overrides the clock used to name archives.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// WithMetrics records each run as a job.
func WithMetrics(metrics *observability.OTelMetrics) Option {
	return func(a *Archiver) { a.metrics = metrics }
}

// NewArchiver creates an archiver writing to store.
func NewArchiver(store ObjectStore, opts ...Option) *Archiver {
	a := &Archiver{
		store:  store,
		now:    time.Now,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the object key for an archive of collection taken at t.
func (a *Archiver) Key(collection string, t time.Time) string {
	return a.prefix + path.Join("history", collection, t.UTC().Format(keyTimeLayout)+".ndjson")
}

// Archive uploads the selected rows of the history collection hist. name is
// the live collection the history belongs to. Nothing is uploaded when no
// row is selected.
func (a *Archiver) Archive(ctx context.Context, name string, hist storage.Collection, opts Options) (result Result, err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordJob(ctx, "archive", time.Since(start), err)
	}()

	result.Collection = name
	log := a.logger.WithFields(logrus.Fields{
		"collection": name,
		"history":    hist.Name(),
	})

	rows, err := hist.Find(ctx, cutoffFilter(opts.Before), storage.FindOptions{
		Sort: document.New(versioning.LastChangeField, 1),
	})
	if err != nil {
		return result, fmt.Errorf("failed to read %s: %w", hist.Name(), err)
	}
	if len(rows) == 0 {
		log.Debug("No history rows to archive")
		return result, nil
	}

	data, err := audit.Export(rows, audit.ExportFormatNDJSON)
	if err != nil {
		return result, err
	}

	result.Key = a.Key(name, a.now())
	if err := a.store.PutObject(ctx, result.Key, bytes.NewReader(data), audit.ExportFormatNDJSON.ContentType()); err != nil {
		return result, err
	}
	result.Rows = len(rows)
	result.Bytes = len(data)

	if opts.DeleteArchived {
		ids := make(bson.A, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.Get(document.IDField))
		}
		res, err := hist.Delete(ctx, document.New(document.IDField, document.New("$in", ids)))
		if err != nil {
			return result, fmt.Errorf("archived to %s but failed to delete rows: %w", result.Key, err)
		}
		result.Deleted = res.Deleted
	}

	log.WithFields(logrus.Fields{
		"key":     result.Key,
		"rows":    result.Rows,
		"deleted": result.Deleted,
	}).Info("Archived history rows")
	return result, nil
}

// List returns the archive keys of collection, oldest first.
func (a *Archiver) List(ctx context.Context, collection string) ([]string, error) {
	return a.store.ListObjects(ctx, a.prefix+path.Join("history", collection)+"/")
}

// Read downloads an archive and decodes its rows.
func (a *Archiver) Read(ctx context.Context, key string) ([]document.Document, error) {
	body, err := a.store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var rows []document.Document
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := codec.Unmarshal([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return rows, nil
}

// Restore inserts the rows of an archive back into hist. Rows already
// present fail with storage.ErrDuplicateKey.
func (a *Archiver) Restore(ctx context.Context, key string, hist storage.Collection) (int, error) {
	rows, err := a.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res, err := hist.Insert(ctx, rows...)
	if err != nil {
		return 0, fmt.Errorf("failed to restore %s: %w", key, err)
	}
	return int(res.Inserted), nil
}

func cutoffFilter(before time.Time) document.Document {
	if before.IsZero() {
		return document.Document{}
	}
	return document.New(versioning.LastChangeField, document.New("$lt", before.UTC()))
}
