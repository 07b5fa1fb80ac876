// Package store is the document-store capability the scrubber needs:
// dropping and enumerating a database, dropping indexes, streaming matched
// document identities, and bulk or per-document updates.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Client is a live connection to a document store.
type Client interface {
	Database(name string) Database
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Database is one named database on a Client.
type Database interface {
	Name() string
	// Drop removes the database. Dropping an absent database is not an error.
	Drop(ctx context.Context) error
	// CollectionNames lists user collections in sorted order.
	CollectionNames(ctx context.Context) ([]string, error)
	Collection(name string) Collection
}

// Collection is a handle on one collection.
type Collection interface {
	Name() string
	DropIndexes(ctx context.Context) error
	// ForEachID streams the _id of every document matching filter.
	ForEachID(ctx context.Context, filter bson.D, fn func(id any) error) error
	// UpdateMany applies the same $set to every matching document.
	UpdateMany(ctx context.Context, filter bson.D, set map[string]any) (UpdateResult, error)
	// BulkUpdate applies one $set per document, keyed by _id, as a single
	// ordered batch.
	BulkUpdate(ctx context.Context, updates []Update) (UpdateResult, error)
}

// Update is a per-document $set keyed by _id.
type Update struct {
	ID  any
	Set map[string]any
}

// UpdateResult reports documents matched and documents actually changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}
