// Package history copies live documents into their append-only history
// collection.
package history

import (
	"context"
	"fmt"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

const (
	// RefIDField references the live document a history row was copied from.
	RefIDField = "_docId"

	// Suffix is appended to a live collection name to name its history.
	Suffix = "_history"
)

// Name returns the conventional history collection name for live.
func Name(live string) string {
	return live + Suffix
}

// Sink receives history rows. The sink assigns each row its own identity.
type Sink interface {
	Insert(ctx context.Context, row document.Document) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, row document.Document) error

// Insert implements Sink.
func (f SinkFunc) Insert(ctx context.Context, row document.Document) error {
	return f(ctx, row)
}

// Copier performs the copy-to-history transform.
type Copier struct {
	stamper *versioning.Stamper
}

// NewCopier creates a Copier. A nil stamper uses wall-clock time.
func NewCopier(stamper *versioning.Stamper) *Copier {
	if stamper == nil {
		stamper = versioning.NewStamper()
	}
	return &Copier{stamper: stamper}
}

// Copy writes a stamped snapshot of live into sink and returns a stamped,
// materialized copy of live for the caller to write.
//
// With a nil sink auditing is off and live is returned as is. When the sink
// rejects the row the error is returned and nothing is stamped, so the caller
// must not go on to write the live document.
func (c *Copier) Copy(ctx context.Context, live document.View, sink Sink) (document.View, error) {
	if sink == nil {
		return live, nil
	}

	stamper := c.stamper.Freeze()
	row, err := Row(live, stamper)
	if err != nil {
		return nil, err
	}
	if err := sink.Insert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to write history row: %w", err)
	}

	stamped, err := document.Clone(live)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize live document: %w", err)
	}
	if err := stamper.StampDocument(&stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

// Row builds the history row for live without writing it: the identity is
// moved to RefIDField and the version is stamped.
func Row(live document.View, stamper *versioning.Stamper) (document.Document, error) {
	row, err := document.Clone(live)
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	row.Rename(document.IDField, RefIDField)
	if err := stamper.StampDocument(&row); err != nil {
		return nil, err
	}
	return row, nil
}
