// Package mongodb implements the storage boundary on top of a MongoDB
// deployment. Filters translate to an ordered $and of native operators so
// the planner sees the same shape the repository composed.
package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kindomxu/ambrosus-node/storage"
)

var log = logrus.WithField("prefix", "mongodb")

// Store is a mongo-backed storage.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Store = (*Store)(nil)

// Connect dials the deployment at uri and selects the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "could not reach mongodb")
	}
	log.WithField("database", database).Info("Connected to mongodb")
	return &Store{client: client, db: client.Database(database)}, nil
}

// Collection returns the named collection.
func (s *Store) Collection(name string) storage.Collection {
	return &collection{coll: s.db.Collection(name)}
}

// EnsureIndexes installs the geospatial index the event query engine needs.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("events").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "content.data.geoJson", Value: "2dsphere"}},
	})
	return errors.Wrap(err, "could not create geospatial index")
}

// Close disconnects from the deployment.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) InsertOne(ctx context.Context, doc interface{}) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return errors.Wrap(err, "insert failed")
}

func (c *collection) FindByID(ctx context.Context, idField, id string, out interface{}) error {
	err := c.coll.FindOne(ctx, bson.D{{Key: idField, Value: id}}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return errors.Wrap(err, "find failed")
}

func (c *collection) Find(ctx context.Context, filter storage.Filter, opts storage.FindOptions, out interface{}) error {
	findOpts := mongooptions.Find()
	if opts.SortBy != "" {
		findOpts.SetSort(bson.D{{Key: opts.SortBy, Value: int(opts.SortDirection)}})
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	cursor, err := c.coll.Find(ctx, TranslateFilter(filter), findOpts)
	if err != nil {
		return errors.Wrap(err, "find failed")
	}
	return errors.Wrap(cursor.All(ctx, out), "cursor drain failed")
}

func (c *collection) Count(ctx context.Context, filter storage.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, TranslateFilter(filter))
	return n, errors.Wrap(err, "count failed")
}

func (c *collection) UpdateMany(ctx context.Context, filter storage.Filter, update storage.Update) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, TranslateFilter(filter), translateUpdate(update))
	if err != nil {
		return 0, errors.Wrap(err, "update failed")
	}
	return res.ModifiedCount, nil
}

// TranslateFilter renders a storage filter as a mongo query document. An
// empty filter matches everything; multiple conditions join under $and to
// keep duplicate paths legal and the composed order observable.
func TranslateFilter(f storage.Filter) bson.D {
	if len(f.Conditions) == 0 {
		return bson.D{}
	}
	if len(f.Conditions) == 1 {
		return translateCondition(f.Conditions[0])
	}
	clauses := make(bson.A, 0, len(f.Conditions))
	for _, cond := range f.Conditions {
		clauses = append(clauses, translateCondition(cond))
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func translateCondition(c storage.Condition) bson.D {
	switch c.Operator {
	case storage.OpEq:
		return bson.D{{Key: c.Path, Value: c.Value}}
	case storage.OpNe:
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$ne", Value: c.Value}}}}
	case storage.OpLte:
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$lte", Value: c.Value}}}}
	case storage.OpGte:
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$gte", Value: c.Value}}}}
	case storage.OpElemMatch:
		inner := bson.D{}
		for _, nested := range c.Nested {
			inner = append(inner, translateCondition(nested)...)
		}
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$elemMatch", Value: inner}}}}
	case storage.OpNear:
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$near", Value: bson.D{
			{Key: "$geometry", Value: bson.D{
				{Key: "type", Value: "Point"},
				{Key: "coordinates", Value: bson.A{c.Geo.Longitude, c.Geo.Latitude}},
			}},
			{Key: "$maxDistance", Value: c.Geo.MaxDistance},
		}}}}}
	default:
		// Unknown operators never match; surfacing a broken filter loudly
		// beats silently matching everything.
		return bson.D{{Key: "$expr", Value: false}}
	}
}

func translateUpdate(u storage.Update) bson.D {
	doc := bson.D{}
	if len(u.Set) > 0 {
		set := bson.D{}
		for k, v := range u.Set {
			set = append(set, bson.E{Key: k, Value: v})
		}
		doc = append(doc, bson.E{Key: "$set", Value: set})
	}
	if len(u.Unset) > 0 {
		unset := bson.D{}
		for _, k := range u.Unset {
			unset = append(unset, bson.E{Key: k, Value: ""})
		}
		doc = append(doc, bson.E{Key: "$unset", Value: unset})
	}
	return doc
}
