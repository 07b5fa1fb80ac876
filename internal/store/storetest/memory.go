// Package storetest provides an in-memory store.Client for tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/mongo-scrubber/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document is a stored document in the in-memory store.
type Document map[string]any

// Op names an operation of the in-memory store for fault injection.
type Op string

const (
	OpPing        Op = "ping"
	OpClose       Op = "close"
	OpDrop        Op = "drop"
	OpList        Op = "list"
	OpDropIndexes Op = "dropIndexes"
	OpFind        Op = "find"
	OpUpdateMany  Op = "updateMany"
	OpBulkUpdate  Op = "bulkUpdate"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("client is disconnected")
	// ErrDuplicateKey is returned when an update would violate a unique index.
	ErrDuplicateKey = errors.New("duplicate key error")
)

// Memory is an in-memory store.Client. It matches the subset of the query
// language the scrubber emits ($or, $and, $exists, $eq, $ne, $in) and
// simulates unique indexes so index drops have an observable effect.
type Memory struct {
	mu       sync.Mutex
	dbs      map[string]*memoryState
	failures map[Op]error
	calls    []string
	closed   bool
	nextID   int
}

type memoryState struct {
	colls map[string]*memoryCollectionState
}

type memoryCollectionState struct {
	docs   []Document
	unique []string
}

var _ store.Client = (*Memory)(nil)

// NewMemory returns an empty in-memory client.
func NewMemory() *Memory {
	return &Memory{
		dbs:      make(map[string]*memoryState),
		failures: make(map[Op]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *Memory) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the operations performed so far, as "op:target".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Closed reports whether Close has succeeded.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Insert adds documents to a collection, creating the database and
// collection as needed. Documents without an _id get a generated one.
func (m *Memory) Insert(db, coll string, docs ...Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(db, coll, true)
	for _, d := range docs {
		doc := copyDocument(d)
		if _, ok := doc["_id"]; !ok {
			m.nextID++
			doc["_id"] = fmt.Sprintf("doc-%d", m.nextID)
		}
		c.docs = append(c.docs, doc)
	}
}

// EnsureUnique declares a unique index on field.
func (m *Memory) EnsureUnique(db, coll, field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(db, coll, true)
	c.unique = append(c.unique, field)
}

// Documents returns copies of a collection's documents in insertion order.
func (m *Memory) Documents(db, coll string) []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(db, coll, false)
	if c == nil {
		return nil
	}
	out := make([]Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = copyDocument(d)
	}
	return out
}

// HasDatabase reports whether db exists.
func (m *Memory) HasDatabase(db string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dbs[db]
	return ok
}

// Database returns a handle on the named database.
func (m *Memory) Database(name string) store.Database {
	return &memoryDatabase{m: m, name: name}
}

// Ping fails only after Close or when injected.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, OpPing, "")
}

// Close disconnects the client. A second Close fails.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpClose, ""); err != nil {
		return err
	}
	m.closed = true
	return nil
}

// begin records a call and reports closed, cancelled, or injected failures.
// Callers hold m.mu.
func (m *Memory) begin(ctx context.Context, op Op, target string) error {
	m.calls = append(m.calls, string(op)+":"+target)
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

// collection looks up a collection, creating it when create is set.
// Callers hold m.mu.
func (m *Memory) collection(db, coll string, create bool) *memoryCollectionState {
	s, ok := m.dbs[db]
	if !ok {
		if !create {
			return nil
		}
		s = &memoryState{colls: make(map[string]*memoryCollectionState)}
		m.dbs[db] = s
	}
	c, ok := s.colls[coll]
	if !ok {
		if !create {
			return nil
		}
		c = &memoryCollectionState{}
		s.colls[coll] = c
	}
	return c
}

type memoryDatabase struct {
	m    *Memory
	name string
}

func (d *memoryDatabase) Name() string { return d.name }

func (d *memoryDatabase) Drop(ctx context.Context) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	if err := d.m.begin(ctx, OpDrop, d.name); err != nil {
		return fmt.Errorf("dropping database %s: %w", d.name, err)
	}
	delete(d.m.dbs, d.name)
	return nil
}

func (d *memoryDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	if err := d.m.begin(ctx, OpList, d.name); err != nil {
		return nil, fmt.Errorf("listing collections in %s: %w", d.name, err)
	}
	s, ok := d.m.dbs[d.name]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0, len(s.colls))
	for name := range s.colls {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *memoryDatabase) Collection(name string) store.Collection {
	return &memoryCollection{m: d.m, db: d.name, name: name}
}

type memoryCollection struct {
	m    *Memory
	db   string
	name string
}

func (c *memoryCollection) Name() string { return c.name }

func (c *memoryCollection) target() string { return c.db + "." + c.name }

func (c *memoryCollection) DropIndexes(ctx context.Context) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.begin(ctx, OpDropIndexes, c.target()); err != nil {
		return fmt.Errorf("dropping indexes on %s: %w", c.name, err)
	}
	if state := c.m.collection(c.db, c.name, false); state != nil {
		state.unique = nil
	}
	return nil
}

func (c *memoryCollection) ForEachID(ctx context.Context, filter bson.D, fn func(id any) error) error {
	c.m.mu.Lock()
	if err := c.m.begin(ctx, OpFind, c.target()); err != nil {
		c.m.mu.Unlock()
		return fmt.Errorf("querying %s: %w", c.name, err)
	}
	var ids []any
	if state := c.m.collection(c.db, c.name, false); state != nil {
		for _, doc := range state.docs {
			if matches(doc, filter) {
				ids = append(ids, doc["_id"])
			}
		}
	}
	c.m.mu.Unlock()

	// fn runs unlocked so callers may issue further operations.
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *memoryCollection) UpdateMany(ctx context.Context, filter bson.D, set map[string]any) (store.UpdateResult, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.begin(ctx, OpUpdateMany, c.target()); err != nil {
		return store.UpdateResult{}, fmt.Errorf("error executing update on collection %s: %w", c.name, err)
	}

	var result store.UpdateResult
	state := c.m.collection(c.db, c.name, false)
	if state == nil {
		return result, nil
	}
	for i, doc := range state.docs {
		if !matches(doc, filter) {
			continue
		}
		result.Matched++
		changed, err := state.apply(i, set)
		if err != nil {
			return result, fmt.Errorf("error executing update on collection %s: %w", c.name, err)
		}
		if changed {
			result.Modified++
		}
	}
	return result, nil
}

func (c *memoryCollection) BulkUpdate(ctx context.Context, updates []store.Update) (store.UpdateResult, error) {
	if len(updates) == 0 {
		return store.UpdateResult{}, nil
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.m.begin(ctx, OpBulkUpdate, c.target()); err != nil {
		return store.UpdateResult{}, fmt.Errorf("error executing bulk update on collection %s: %w", c.name, err)
	}

	var result store.UpdateResult
	state := c.m.collection(c.db, c.name, false)
	if state == nil {
		return result, nil
	}
	for _, u := range updates {
		i := state.indexOf(u.ID)
		if i < 0 {
			continue
		}
		result.Matched++
		changed, err := state.apply(i, u.Set)
		if err != nil {
			return result, fmt.Errorf("error executing bulk update on collection %s: %w", c.name, err)
		}
		if changed {
			result.Modified++
		}
	}
	return result, nil
}

func (s *memoryCollectionState) indexOf(id any) int {
	for i, doc := range s.docs {
		if reflect.DeepEqual(doc["_id"], id) {
			return i
		}
	}
	return -1
}

// apply sets fields on document i, enforcing unique indexes.
func (s *memoryCollectionState) apply(i int, set map[string]any) (bool, error) {
	for _, field := range s.unique {
		v, ok := set[field]
		if !ok {
			continue
		}
		for j, other := range s.docs {
			if j != i && reflect.DeepEqual(other[field], v) {
				return false, fmt.Errorf("%w: %s %v", ErrDuplicateKey, field, v)
			}
		}
	}

	doc := s.docs[i]
	changed := false
	for k, v := range set {
		if old, ok := doc[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		doc[k] = v
		changed = true
	}
	return changed, nil
}

// matches evaluates a filter against a document.
func matches(doc Document, filter bson.D) bool {
	for _, e := range filter {
		switch e.Key {
		case "$or":
			clauses := toFilters(e.Value)
			hit := false
			for _, clause := range clauses {
				if matches(doc, clause) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		case "$and":
			for _, clause := range toFilters(e.Value) {
				if !matches(doc, clause) {
					return false
				}
			}
		default:
			if !matchField(doc, e.Key, e.Value) {
				return false
			}
		}
	}
	return true
}

func matchField(doc Document, field string, cond any) bool {
	value, present := doc[field]
	ops, ok := cond.(bson.D)
	if !ok || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		return present && reflect.DeepEqual(value, cond)
	}
	for _, op := range ops {
		switch op.Key {
		case "$exists":
			want, _ := op.Value.(bool)
			if present != want {
				return false
			}
		case "$eq":
			if !present || !reflect.DeepEqual(value, op.Value) {
				return false
			}
		case "$ne":
			if present && reflect.DeepEqual(value, op.Value) {
				return false
			}
		case "$in":
			found := false
			for _, candidate := range toList(op.Value) {
				if present && reflect.DeepEqual(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func toFilters(v any) []bson.D {
	switch t := v.(type) {
	case []bson.D:
		return t
	default:
		var out []bson.D
		for _, item := range toList(v) {
			if d, ok := item.(bson.D); ok {
				out = append(out, d)
			}
		}
		return out
	}
}

func toList(v any) []any {
	switch t := v.(type) {
	case bson.A:
		return t
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func copyDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
