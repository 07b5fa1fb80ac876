// Package scrub rewrites the sensitive fields of one collection according to
// its policy entry.
package scrub

import (
	"context"
	"fmt"

	"github.com/johndauphine/mongo-scrubber/internal/logging"
	"github.com/johndauphine/mongo-scrubber/internal/policy"
	"github.com/johndauphine/mongo-scrubber/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Result holds the counts for one scrubbed collection.
type Result struct {
	Collection string `json:"collection"`
	Matched    int64  `json:"matched"`
	Modified   int64  `json:"modified"`
}

// Scrubber applies policy entries to collections.
type Scrubber struct {
	operators []string
}

// New returns a Scrubber that leaves the given operator accounts untouched
// in collections whose entry protects operators.
func New(operators []string) *Scrubber {
	return &Scrubber{operators: operators}
}

// Scrub rewrites every document in coll that holds at least one of the
// entry's fields. Static plans are applied with one update; generated plans
// are evaluated once per matched document and written as a single ordered
// batch once the matched set has been read.
func (s *Scrubber) Scrub(ctx context.Context, coll store.Collection, entry policy.Entry) (Result, error) {
	result := Result{Collection: coll.Name()}

	if entry.DropIndexes {
		logging.Debug("Dropping indexes on %s", coll.Name())
		if err := coll.DropIndexes(ctx); err != nil {
			return result, err
		}
	}

	var operators []string
	if entry.ProtectOperators {
		operators = s.operators
	}
	filter := BuildFilter(entry.Plan.Fields(), operators)

	var counts store.UpdateResult
	var err error
	if entry.Plan.PerDocument() {
		counts, err = s.perDocument(ctx, coll, filter, entry.Plan)
	} else {
		counts, err = coll.UpdateMany(ctx, filter, entry.Plan.Evaluate())
	}
	if err != nil {
		return result, err
	}

	result.Matched = counts.Matched
	result.Modified = counts.Modified
	logging.Success("Found %d entries in %s with sensitive fields ...scrubbed %d entries clean",
		result.Matched, coll.Name(), result.Modified)
	return result, nil
}

func (s *Scrubber) perDocument(ctx context.Context, coll store.Collection, filter bson.D, plan policy.Plan) (store.UpdateResult, error) {
	var updates []store.Update
	err := coll.ForEachID(ctx, filter, func(id any) error {
		updates = append(updates, store.Update{ID: id, Set: plan.Evaluate()})
		return nil
	})
	if err != nil {
		return store.UpdateResult{}, err
	}
	if len(updates) == 0 {
		return store.UpdateResult{}, nil
	}

	logging.Debug("Writing %d updates to %s", len(updates), coll.Name())
	res, err := coll.BulkUpdate(ctx, updates)
	if err != nil {
		return res, fmt.Errorf("writing %d updates: %w", len(updates), err)
	}
	return res, nil
}

// BuildFilter matches documents holding any of fields. Each operator
// username adds a "not equal" clause on username.
func BuildFilter(fields, operators []string) bson.D {
	exists := make(bson.A, 0, len(fields))
	for _, f := range fields {
		exists = append(exists, bson.D{{Key: f, Value: bson.D{{Key: "$exists", Value: true}}}})
	}
	filter := bson.D{{Key: "$or", Value: exists}}

	if len(operators) > 0 {
		excluded := make(bson.A, 0, len(operators))
		for _, u := range operators {
			excluded = append(excluded, bson.D{{Key: "username", Value: bson.D{{Key: "$ne", Value: u}}}})
		}
		filter = append(filter, bson.E{Key: "$and", Value: excluded})
	}
	return filter
}
