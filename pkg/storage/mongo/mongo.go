// Package mongo is the MongoDB backend. Filters and modifiers are sent to
// the server unchanged.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
)

// Database wraps a mongo database.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logrus.Logger
}

// Open connects to cfg.MongoURI and uses cfg.MongoDatabase.
func Open(ctx context.Context, cfg storage.Config, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.MongoTimeout > 0 {
		opts.SetTimeout(cfg.MongoTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	timeout := cfg.MongoTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.WithField("database", cfg.MongoDatabase).Info("Connected to MongoDB")
	return &Database{client: client, db: client.Database(cfg.MongoDatabase), log: logger}, nil
}

// Collection implements storage.Database.
func (d *Database) Collection(name string) storage.Collection {
	return &Collection{coll: d.db.Collection(name)}
}

// Ping implements storage.Database.
func (d *Database) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

// Close implements storage.Database.
func (d *Database) Close(ctx context.Context) error {
	if err := d.client.Disconnect(ctx); err != nil {
		if errors.Is(err, mongo.ErrClientDisconnected) {
			return nil
		}
		return err
	}
	return nil
}

// Collection is a mongo-backed storage.Collection.
type Collection struct {
	coll *mongo.Collection
}

// Name implements storage.Collection.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// Insert implements storage.Collection.
func (c *Collection) Insert(ctx context.Context, docs ...document.Document) (storage.WriteResult, error) {
	if len(docs) == 0 {
		return storage.WriteResult{Acknowledged: true}, nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = toBSON(withID(d))
	}
	res, err := c.coll.InsertMany(ctx, batch)
	if err != nil {
		return storage.WriteResult{}, wrap(err)
	}
	return storage.WriteResult{
		Acknowledged: res.Acknowledged,
		Inserted:     int64(len(res.InsertedIDs)),
		InsertedIDs:  res.InsertedIDs,
	}, nil
}

// Save implements storage.Collection.
func (c *Collection) Save(ctx context.Context, doc document.Document) (storage.WriteResult, error) {
	doc = withID(doc)
	filter := bson.D{{Key: document.IDField, Value: doc.Get(document.IDField)}}
	res, err := c.coll.ReplaceOne(ctx, filter, toBSON(doc), options.Replace().SetUpsert(true))
	if err != nil {
		return storage.WriteResult{}, wrap(err)
	}
	return updateResult(res), nil
}

// Update implements storage.Collection.
func (c *Collection) Update(ctx context.Context, filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	var (
		res *mongo.UpdateResult
		err error
	)
	switch {
	case !query.IsOperatorModifier(modifier):
		if opts.Multi {
			return storage.WriteResult{}, fmt.Errorf("%w: replacement update cannot be multi", storage.ErrUnsupportedOperator)
		}
		res, err = c.coll.ReplaceOne(ctx, toBSON(filter), toBSON(modifier), options.Replace().SetUpsert(opts.Upsert))
	case opts.Multi:
		res, err = c.coll.UpdateMany(ctx, toBSON(filter), toBSON(modifier), options.UpdateMany().SetUpsert(opts.Upsert))
	default:
		res, err = c.coll.UpdateOne(ctx, toBSON(filter), toBSON(modifier), options.UpdateOne().SetUpsert(opts.Upsert))
	}
	if err != nil {
		return storage.WriteResult{}, wrap(err)
	}
	return updateResult(res), nil
}

// Delete implements storage.Collection.
func (c *Collection) Delete(ctx context.Context, filter document.Document) (storage.WriteResult, error) {
	res, err := c.coll.DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return storage.WriteResult{}, wrap(err)
	}
	return storage.WriteResult{Acknowledged: res.Acknowledged, Deleted: res.DeletedCount}, nil
}

// Find implements storage.Collection.
func (c *Collection) Find(ctx context.Context, filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(toBSON(opts.Sort))
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(toBSON(opts.Projection))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cur, err := c.coll.Find(ctx, toBSON(filter), findOpts)
	if err != nil {
		return nil, wrap(err)
	}
	var raw []bson.D
	if err := cur.All(ctx, &raw); err != nil {
		return nil, wrap(err)
	}
	docs := make([]document.Document, len(raw))
	for i, d := range raw {
		docs[i] = codec.Normalize(document.Document(d))
	}
	return docs, nil
}

// Count implements storage.Collection.
func (c *Collection) Count(ctx context.Context, filter document.Document) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, toBSON(filter))
	return n, wrap(err)
}

// FindAndModify implements storage.Collection.
func (c *Collection) FindAndModify(ctx context.Context, filter document.Document, opts storage.FindAndModifyOptions) (document.Document, bool, error) {
	var res *mongo.SingleResult
	returnDoc := options.Before
	if opts.ReturnNew {
		returnDoc = options.After
	}

	switch {
	case opts.Remove:
		o := options.FindOneAndDelete()
		if len(opts.Sort) > 0 {
			o.SetSort(toBSON(opts.Sort))
		}
		if len(opts.Projection) > 0 {
			o.SetProjection(toBSON(opts.Projection))
		}
		res = c.coll.FindOneAndDelete(ctx, toBSON(filter), o)
	case len(opts.Update) == 0:
		return nil, false, fmt.Errorf("find and modify requires an update or remove")
	case query.IsOperatorModifier(opts.Update):
		o := options.FindOneAndUpdate().SetReturnDocument(returnDoc).SetUpsert(opts.Upsert)
		if len(opts.Sort) > 0 {
			o.SetSort(toBSON(opts.Sort))
		}
		if len(opts.Projection) > 0 {
			o.SetProjection(toBSON(opts.Projection))
		}
		res = c.coll.FindOneAndUpdate(ctx, toBSON(filter), toBSON(opts.Update), o)
	default:
		o := options.FindOneAndReplace().SetReturnDocument(returnDoc).SetUpsert(opts.Upsert)
		if len(opts.Sort) > 0 {
			o.SetSort(toBSON(opts.Sort))
		}
		if len(opts.Projection) > 0 {
			o.SetProjection(toBSON(opts.Projection))
		}
		res = c.coll.FindOneAndReplace(ctx, toBSON(filter), toBSON(opts.Update), o)
	}

	var out bson.D
	if err := res.Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, wrap(err)
	}
	return codec.Normalize(document.Document(out)), true, nil
}

func updateResult(res *mongo.UpdateResult) storage.WriteResult {
	return storage.WriteResult{
		Acknowledged: res.Acknowledged,
		Matched:      res.MatchedCount,
		Modified:     res.ModifiedCount,
		Upserted:     res.UpsertedCount,
		UpsertedID:   res.UpsertedID,
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, err)
	}
	return err
}

// withID returns doc with a generated ObjectID when it has no _id.
func withID(doc document.Document) document.Document {
	if doc.Has(document.IDField) {
		return doc
	}
	out := make(document.Document, 0, len(doc)+1)
	out = append(out, bson.E{Key: document.IDField, Value: bson.NewObjectID()})
	return append(out, doc...)
}

// toBSON converts a document, and every document nested in it, to bson.D.
func toBSON(doc document.Document) bson.D {
	out := make(bson.D, len(doc))
	for i, e := range doc {
		out[i] = bson.E{Key: e.Key, Value: toBSONValue(e.Value)}
	}
	return out
}

func toBSONValue(v any) any {
	switch t := v.(type) {
	case document.Document:
		return toBSON(t)
	case bson.D:
		return toBSON(document.Document(t))
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSONValue(e)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSONValue(e)
		}
		return out
	default:
		return v
	}
}
