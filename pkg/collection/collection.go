package collection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/identity"
	"github.com/platinummonkey/chronicle/pkg/marshal"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

var tracer = otel.Tracer("chronicle/collection")

// Collection is a live collection with an optional history collection.
// It holds no mutable state and is safe for concurrent use.
type Collection struct {
	live    storage.Collection
	history storage.Collection

	marshaller marshal.Marshaller
	resolver   *identity.Resolver
	stamper    *versioning.Stamper

	log     *logrus.Logger
	metrics *observability.Metrics
}

// Option configures a Collection.
type Option func(*Collection)

// WithHistory enables auditing into h.
func WithHistory(h storage.Collection) Option {
	return func(c *Collection) { c.history = h }
}

// WithMarshaller replaces the default BSON marshaller.
func WithMarshaller(m marshal.Marshaller) Option {
	return func(c *Collection) { c.marshaller = m }
}

// WithResolver replaces the default ObjectID resolver.
func WithResolver(r *identity.Resolver) Option {
	return func(c *Collection) { c.resolver = r }
}

// WithStamper replaces the wall-clock stamper.
func WithStamper(s *versioning.Stamper) Option {
	return func(c *Collection) { c.stamper = s }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Collection) { c.log = l }
}

// WithMetrics records operation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Collection) { c.metrics = m }
}

// New creates a Collection over live.
func New(live storage.Collection, opts ...Option) *Collection {
	c := &Collection{live: live}
	for _, opt := range opts {
		opt(c)
	}
	if c.marshaller == nil {
		c.marshaller = marshal.BSON{}
	}
	if c.resolver == nil {
		c.resolver = identity.NewResolver(nil)
	}
	if c.stamper == nil {
		c.stamper = versioning.NewStamper()
	}
	if c.log == nil {
		c.log = logrus.New()
	}
	return c
}

// Name returns the live collection name.
func (c *Collection) Name() string {
	return c.live.Name()
}

// Audited reports whether mutations are copied to history.
func (c *Collection) Audited() bool {
	return c.history != nil
}

// Live returns the live store collection.
func (c *Collection) Live() storage.Collection {
	return c.live
}

// HistoryCollection returns the history store collection, or nil when not
// audited.
func (c *Collection) HistoryCollection() storage.Collection {
	return c.history
}

// Find returns the live documents matching filter.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	ctx, op := c.begin(ctx, "find")
	docs, err := c.live.Find(ctx, filter, opts)
	if err != nil {
		return nil, op.end(c.stageErr("find", StageRead, err))
	}
	op.end(nil)
	return docs, nil
}

// FindOne returns the first live document matching filter.
func (c *Collection) FindOne(ctx context.Context, filter document.Document) (document.Document, bool, error) {
	docs, err := c.Find(ctx, filter, storage.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

// FindID returns the live document with the given _id.
func (c *Collection) FindID(ctx context.Context, id any) (document.Document, bool, error) {
	if id == nil {
		return nil, false, c.stageErr("find", StageResolve, ErrNilID)
	}
	return c.FindOne(ctx, document.New(document.IDField, id))
}

// Count returns the number of live documents matching filter.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	ctx, op := c.begin(ctx, "count")
	n, err := c.live.Count(ctx, filter)
	if err != nil {
		return 0, op.end(c.stageErr("count", StageRead, err))
	}
	op.end(nil)
	return n, nil
}

// FindHistory returns history rows matching filter.
func (c *Collection) FindHistory(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	if c.history == nil {
		return nil, c.stageErr("find_history", StageRead, ErrNotAudited)
	}
	ctx, op := c.begin(ctx, "find_history")
	rows, err := c.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, op.end(c.stageErr("find_history", StageRead, err))
	}
	op.end(nil)
	return rows, nil
}

// History returns every history row of the live document id, oldest first.
func (c *Collection) History(ctx context.Context, id any) ([]document.Document, error) {
	if id == nil {
		return nil, c.stageErr("find_history", StageResolve, ErrNilID)
	}
	return c.FindHistory(ctx, document.New(history.RefIDField, id), storage.FindOptions{
		Sort: document.New(versioning.VersionField, 1),
	})
}

// Remove deletes the live documents matching filter. Removal through Remove
// is not audited; use FindAndModify with Remove to keep a history row.
func (c *Collection) Remove(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	ctx, op := c.begin(ctx, "remove")
	res, err := c.live.Delete(ctx, filter)
	if err != nil {
		return storage.WriteResult{}, op.end(c.stageErr("remove", StageWrite, err))
	}
	op.end(nil)
	return res, nil
}

// RemoveID deletes the live document with the given _id.
func (c *Collection) RemoveID(ctx context.Context, id any) (storage.WriteResult, error) {
	if id == nil {
		return storage.WriteResult{}, c.stageErr("remove", StageResolve, ErrNilID)
	}
	return c.Remove(ctx, document.New(document.IDField, id))
}

func (c *Collection) stageErr(operation string, stage Stage, err error) error {
	return &StageError{Collection: c.Name(), Operation: operation, Stage: stage, Err: err}
}

// sink adapts the history collection to history.Sink and counts rows.
func (c *Collection) sink() history.Sink {
	if c.history == nil {
		return nil
	}
	return history.SinkFunc(func(ctx context.Context, row document.Document) error {
		if _, err := c.history.Insert(ctx, row); err != nil {
			return err
		}
		c.metrics.AddHistoryRows(c.Name(), 1)
		return nil
	})
}

// operation tracks one pipeline invocation for logs, metrics and tracing.
type operation struct {
	c     *Collection
	name  string
	start time.Time
	log   *logrus.Entry
	span  trace.Span
}

func (c *Collection) begin(ctx context.Context, name string) (context.Context, *operation) {
	ctx, span := tracer.Start(ctx, "Collection."+name,
		trace.WithAttributes(
			attribute.String("chronicle.collection", c.Name()),
			attribute.Bool("chronicle.audited", c.Audited()),
		),
	)
	op := &operation{
		c:     c,
		name:  name,
		start: time.Now(),
		span:  span,
		log: c.log.WithFields(logrus.Fields{
			"collection": c.Name(),
			"operation":  name,
			"op_id":      uuid.NewString(),
		}).WithFields(observability.TraceFields(ctx)),
	}
	op.log.Debug("operation started")
	return ctx, op
}

// end finishes the operation and returns err unchanged.
func (o *operation) end(err error) error {
	defer o.span.End()
	o.c.metrics.ObserveOperation(o.c.Name(), o.name, o.start, err)

	entry := o.log.WithField("duration_ms", time.Since(o.start).Milliseconds())
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		if stage, ok := StageOf(err); ok {
			entry = entry.WithField("stage", string(stage))
		}
		entry.WithError(err).Warn("operation failed")
		return err
	}
	o.span.SetStatus(codes.Ok, "")
	entry.Debug("operation completed")
	return nil
}
