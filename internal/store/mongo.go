package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// pingTimeout bounds the connectivity check made by Connect.
const pingTimeout = 10 * time.Second

// MongoClient implements Client over the official MongoDB driver.
type MongoClient struct {
	client *mongo.Client
}

// Connect opens a client for uri and verifies the server answers a ping.
func Connect(ctx context.Context, uri string) (*MongoClient, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(pingTimeout).
		SetServerSelectionTimeout(pingTimeout)

	// In v2, Connect handles both creation and connection
	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return &MongoClient{client: client}, nil
}

// Database returns a handle on the named database.
func (c *MongoClient) Database(name string) Database {
	return &mongoDatabase{db: c.client.Database(name)}
}

// Ping checks the primary is reachable.
func (c *MongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (c *MongoClient) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string { return d.db.Name() }

func (d *mongoDatabase) Drop(ctx context.Context) error {
	if err := d.db.Drop(ctx); err != nil {
		return fmt.Errorf("dropping database %s: %w", d.db.Name(), err)
	}
	return nil
}

func (d *mongoDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections in %s: %w", d.db.Name(), err)
	}
	out := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string { return c.coll.Name() }

func (c *mongoCollection) DropIndexes(ctx context.Context) error {
	if err := c.coll.Indexes().DropAll(ctx); err != nil {
		return fmt.Errorf("dropping indexes on %s: %w", c.coll.Name(), err)
	}
	return nil
}

func (c *mongoCollection) ForEachID(ctx context.Context, filter bson.D, fn func(id any) error) error {
	findOptions := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})
	cursor, err := c.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return fmt.Errorf("querying %s: %w", c.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decoding document in %s: %w", c.coll.Name(), err)
		}
		if err := fn(doc.ID); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterating %s: %w", c.coll.Name(), err)
	}
	return nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter bson.D, set map[string]any) (UpdateResult, error) {
	update := bson.D{{Key: "$set", Value: toBSONDoc(set)}}
	result, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("error executing update on collection %s: %w", c.coll.Name(), err)
	}
	return UpdateResult{Matched: result.MatchedCount, Modified: result.ModifiedCount}, nil
}

func (c *mongoCollection) BulkUpdate(ctx context.Context, updates []Update) (UpdateResult, error) {
	if len(updates) == 0 {
		return UpdateResult{}, nil
	}

	operations := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		operation := mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: u.ID}}).
			SetUpdate(bson.D{{Key: "$set", Value: toBSONDoc(u.Set)}})
		operations = append(operations, operation)
	}

	opts := options.BulkWrite().SetOrdered(true)
	result, err := c.coll.BulkWrite(ctx, operations, opts)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("error executing bulk update on collection %s: %w", c.coll.Name(), err)
	}
	return UpdateResult{Matched: result.MatchedCount, Modified: result.ModifiedCount}, nil
}

// toBSONDoc converts a map into a bson.D with keys in sorted order so the
// generated $set documents are stable.
func toBSONDoc(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: m[k]})
	}
	return doc
}
