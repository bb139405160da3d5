package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"syndrodm/src/helpers"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxRetries     uint64
}

// MongoDriver stores collections in a MongoDB database.
type MongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.SugaredLogger
}

// NewMongoDriver connects and pings the server, retrying with exponential
// backoff until MaxRetries is exhausted or ctx is done.
func NewMongoDriver(ctx context.Context, cfg MongoConfig, logger *zap.SugaredLogger) (*MongoDriver, error) {
	logger = helpers.OrNop(logger)
	if cfg.Database == "" {
		return nil, errors.New("mongo driver: database name is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}

	clientOpts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)

	var client *mongo.Client
	connect := func() error {
		c, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := c.Ping(pingCtx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warnw("mongo connect failed, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	logger.Infow("connected to mongo", "database", cfg.Database)
	return &MongoDriver{client: client, db: client.Database(cfg.Database), logger: logger}, nil
}

func (d *MongoDriver) findOptions(opts *FindOptions) *options.FindOptions {
	fo := options.Find()
	if opts == nil {
		return fo
	}
	if len(opts.Sort) > 0 {
		fo.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		fo.SetProjection(opts.Projection)
	}
	return fo
}

func (d *MongoDriver) FindOne(ctx context.Context, collection string, filter bson.M, opts *FindOptions) (bson.M, error) {
	fo := options.FindOne()
	if opts != nil {
		if len(opts.Sort) > 0 {
			fo.SetSort(opts.Sort)
		}
		if opts.Skip > 0 {
			fo.SetSkip(opts.Skip)
		}
		if len(opts.Projection) > 0 {
			fo.SetProjection(opts.Projection)
		}
	}
	var doc bson.M
	err := d.db.Collection(collection).FindOne(ctx, objectIDFilter(filter), fo).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one in %s: %w", collection, err)
	}
	return helpers.NormalizeDoc(doc), nil
}

func (d *MongoDriver) Find(ctx context.Context, collection string, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	cur, err := d.db.Collection(collection).Find(ctx, objectIDFilter(filter), d.findOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	for _, doc := range docs {
		helpers.NormalizeDoc(doc)
	}
	return docs, nil
}

func (d *MongoDriver) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	n, err := d.db.Collection(collection).CountDocuments(ctx, objectIDFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", collection, err)
	}
	return n, nil
}

func (d *MongoDriver) Insert(ctx context.Context, collection string, fields bson.M) (bson.M, error) {
	doc := helpers.CloneDoc(fields)
	if doc == nil {
		doc = bson.M{}
	}
	if id, ok := doc["_id"]; !ok || id == nil {
		doc["_id"] = primitive.NewObjectID()
	}
	if _, err := d.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", collection, err)
	}
	return doc, nil
}

func (d *MongoDriver) Update(ctx context.Context, collection string, id interface{}, fields bson.M) (bson.M, error) {
	set, unset := splitUpdate(fields)
	delete(set, "_id")
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		u := bson.M{}
		for _, p := range unset {
			u[p] = ""
		}
		update["$unset"] = u
	}
	if len(update) == 0 {
		return d.FindOne(ctx, collection, bson.M{"_id": id}, nil)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err := d.db.Collection(collection).FindOneAndUpdate(ctx, objectIDFilter(bson.M{"_id": id}), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%v: %w", collection, id, err)
	}
	return helpers.NormalizeDoc(doc), nil
}

func (d *MongoDriver) Remove(ctx context.Context, collection string, id interface{}) (bool, error) {
	res, err := d.db.Collection(collection).DeleteOne(ctx, objectIDFilter(bson.M{"_id": id}))
	if err != nil {
		return false, fmt.Errorf("remove %s/%v: %w", collection, id, err)
	}
	return res.DeletedCount > 0, nil
}

func (d *MongoDriver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// objectIDFilter rewrites hex string ids in _id conditions into ObjectIDs.
// $in and $nin lists keep both forms so string ids still match.
func objectIDFilter(filter bson.M) bson.M {
	id, ok := filter["_id"]
	if !ok {
		return filter
	}
	out := make(bson.M, len(filter))
	for k, v := range filter {
		out[k] = v
	}

	if ops, isMap := helpers.AsMap(id); isMap {
		rewritten := bson.M{}
		for op, arg := range ops {
			switch op {
			case "$in", "$nin":
				list, _ := helpers.AsSlice(arg)
				both := bson.A{}
				for _, v := range list {
					both = append(both, v)
					if oid, ok := asObjectID(v); ok {
						both = append(both, oid)
					}
				}
				rewritten[op] = both
			case "$eq", "$ne":
				if oid, ok := asObjectID(arg); ok {
					rewritten[op] = oid
				} else {
					rewritten[op] = arg
				}
			default:
				rewritten[op] = arg
			}
		}
		out["_id"] = rewritten
		return out
	}
	if oid, ok := asObjectID(id); ok {
		out["_id"] = bson.M{"$in": bson.A{id, oid}}
	}
	return out
}

func asObjectID(v interface{}) (primitive.ObjectID, bool) {
	s, ok := v.(string)
	if !ok {
		return primitive.NilObjectID, false
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}
