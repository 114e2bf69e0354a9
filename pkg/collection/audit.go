package collection

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

func (c *Collection) copier() *history.Copier {
	return history.NewCopier(c.stamper)
}

// preImages reads the documents an audited write is about to change and
// checks their versions, so a corrupt version fails before the live write.
func (c *Collection) preImages(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	docs, err := c.live.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if _, _, err := versioning.Version(d); err != nil {
			return nil, fmt.Errorf("document %v: %w", d.Get(document.IDField), err)
		}
	}
	return docs, nil
}

// auditAfterWrite copies docs to history and, unless bump is false, bumps
// the version of the live documents they came from. All rows and live
// documents share one timestamp.
func (c *Collection) auditAfterWrite(ctx context.Context, docs []document.Document, bump bool) error {
	if len(docs) == 0 {
		return nil
	}

	stamper := c.stamper.Freeze()
	copier := history.NewCopier(stamper)
	sink := c.sink()

	ids := make(bson.A, 0, len(docs))
	for _, d := range docs {
		if _, err := copier.Copy(ctx, d, sink); err != nil {
			return err
		}
		ids = append(ids, d.Get(document.IDField))
	}
	if !bump {
		return nil
	}

	filter := document.New(document.IDField, document.New("$in", ids))
	modifier := document.New(
		"$inc", document.New(versioning.VersionField, int32(1)),
		"$set", document.New(versioning.LastChangeField, stamper.Time()),
	)
	if _, err := c.live.Update(ctx, filter, modifier, storage.UpdateOptions{Multi: true}); err != nil {
		return fmt.Errorf("failed to bump versions: %w", err)
	}
	return nil
}
