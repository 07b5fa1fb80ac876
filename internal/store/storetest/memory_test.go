package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/johndauphine/mongo-scrubber/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func seedUsers(m *Memory) {
	m.Insert("devex", "users",
		Document{"_id": 1, "username": "admin", "email": "admin@example.com"},
		Document{"_id": 2, "username": "alice", "email": "alice@example.com"},
		Document{"_id": 3, "username": "bob"},
		Document{"_id": 4, "username": "carol", "phone": "555"},
	)
}

func TestMemoryFilterMatching(t *testing.T) {
	m := NewMemory()
	seedUsers(m)
	coll := m.Database("devex").Collection("users")

	filter := bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "email", Value: bson.D{{Key: "$exists", Value: true}}}},
			bson.D{{Key: "phone", Value: bson.D{{Key: "$exists", Value: true}}}},
		}},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "username", Value: bson.D{{Key: "$ne", Value: "admin"}}}},
		}},
	}

	var ids []any
	err := coll.ForEachID(context.Background(), filter, func(id any) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4}, ids)
}

func TestMemoryFieldOperators(t *testing.T) {
	doc := Document{"name": "x", "n": 3}

	tests := []struct {
		name   string
		filter bson.D
		want   bool
	}{
		{"literal", bson.D{{Key: "name", Value: "x"}}, true},
		{"literal miss", bson.D{{Key: "name", Value: "y"}}, false},
		{"eq", bson.D{{Key: "n", Value: bson.D{{Key: "$eq", Value: 3}}}}, true},
		{"ne missing field", bson.D{{Key: "other", Value: bson.D{{Key: "$ne", Value: 1}}}}, true},
		{"exists false", bson.D{{Key: "other", Value: bson.D{{Key: "$exists", Value: false}}}}, true},
		{"in", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: []string{"a", "x"}}}}}, true},
		{"in miss", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"a"}}}}}, false},
		{"empty", bson.D{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(doc, tt.filter))
		})
	}
}

func TestMemoryUpdateManyCountsModified(t *testing.T) {
	m := NewMemory()
	m.Insert("db", "programs",
		Document{"_id": 1, "owner": "someone"},
		Document{"_id": 2, "owner": ""},
		Document{"_id": 3},
	)
	coll := m.Database("db").Collection("programs")
	filter := bson.D{{Key: "$or", Value: bson.A{bson.D{{Key: "owner", Value: bson.D{{Key: "$exists", Value: true}}}}}}}

	res, err := coll.UpdateMany(context.Background(), filter, map[string]any{"owner": ""})
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 2, Modified: 1}, res)

	docs := m.Documents("db", "programs")
	assert.Equal(t, "", docs[0]["owner"])
	assert.NotContains(t, docs[2], "owner")
}

func TestMemoryUniqueIndex(t *testing.T) {
	m := NewMemory()
	seedUsers(m)
	m.EnsureUnique("devex", "users", "email")
	coll := m.Database("devex").Collection("users")
	ctx := context.Background()

	_, err := coll.BulkUpdate(ctx, []store.Update{{ID: 2, Set: map[string]any{"email": "admin@example.com"}}})
	require.ErrorIs(t, err, ErrDuplicateKey)

	require.NoError(t, coll.DropIndexes(ctx))
	res, err := coll.BulkUpdate(ctx, []store.Update{
		{ID: 2, Set: map[string]any{"email": "admin@example.com"}},
		{ID: 99, Set: map[string]any{"email": "ghost"}},
	})
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 1, Modified: 1}, res)
}

func TestMemoryDropIsIdempotent(t *testing.T) {
	m := NewMemory()
	seedUsers(m)
	db := m.Database("devex")
	ctx := context.Background()

	require.NoError(t, db.Drop(ctx))
	assert.False(t, m.HasDatabase("devex"))
	require.NoError(t, db.Drop(ctx))

	names, err := db.CollectionNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryCollectionNames(t *testing.T) {
	m := NewMemory()
	m.Insert("db", "users", Document{})
	m.Insert("db", "teams", Document{})
	m.Insert("db", "system.views", Document{})

	names, err := m.Database("db").CollectionNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"teams", "users"}, names)
}

func TestMemoryCloseAndFaults(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailOn(OpPing, boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)
	m.FailOn(OpPing, nil)
	assert.NoError(t, m.Ping(ctx))

	require.NoError(t, m.Close(ctx))
	assert.True(t, m.Closed())
	assert.ErrorIs(t, m.Close(ctx), ErrClosed)
	assert.ErrorIs(t, m.Database("x").Drop(ctx), ErrClosed)
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Database("x").CollectionNames(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
