// Package policy holds the field policy table: which collections carry
// sensitive fields, how each field is replaced, and which collections and
// accounts are left alone.
package policy

import (
	"sort"

	"github.com/johndauphine/mongo-scrubber/internal/fake"
	"github.com/samber/lo"
)

// Entry is the policy for one collection.
type Entry struct {
	Collection string
	Plan       Plan
	// DropIndexes drops the collection's indexes before writing, for
	// collections whose unique indexes would reject replacement values.
	DropIndexes bool
	// ProtectOperators excludes documents whose username is an operator account.
	ProtectOperators bool
}

// Table maps collection names to entries.
type Table struct {
	entries   map[string]Entry
	safe      map[string]struct{}
	operators []string
}

// SafeCollections hold no sensitive fields and are never scrubbed.
var SafeCollections = []string{
	"capabilities",
	"capabilityskills",
	"configuration",
	"notifications",
	"projects",
	"sessions",
	"skills",
	"subscriptions",
	"teams",
}

// OperatorUsernames are built-in accounts that keep their real values.
var OperatorUsernames = []string{"admin", "dev", "gov", "user"}

// NewTable builds a table from entries and safelists.
func NewTable(entries []Entry, safeCollections, operators []string) *Table {
	t := &Table{
		entries: make(map[string]Entry, len(entries)),
		safe:    make(map[string]struct{}, len(safeCollections)),
	}
	for _, e := range entries {
		t.entries[e.Collection] = e
	}
	for _, name := range safeCollections {
		t.safe[name] = struct{}{}
	}
	t.operators = lo.Uniq(operators)
	return t
}

// Lookup returns the entry for a collection. Safelisted collections and
// collections absent from the table report false.
func (t *Table) Lookup(collection string) (Entry, bool) {
	if t.Safelisted(collection) {
		return Entry{}, false
	}
	e, ok := t.entries[collection]
	return e, ok
}

// Safelisted reports whether a collection is exempt from scrubbing.
func (t *Table) Safelisted(collection string) bool {
	_, ok := t.safe[collection]
	return ok
}

// Sensitive filters an enumeration down to the collections that will be
// scrubbed, keeping the input order.
func (t *Table) Sensitive(collections []string) []string {
	return lo.Filter(collections, func(name string, _ int) bool {
		_, ok := t.Lookup(name)
		return ok
	})
}

// Operators returns the operator usernames excluded from scrubbing.
func (t *Table) Operators() []string {
	out := make([]string, len(t.operators))
	copy(out, t.operators)
	return out
}

// Collections returns the names of all collections with an entry, sorted.
func (t *Table) Collections() []string {
	names := lo.Keys(t.entries)
	sort.Strings(names)
	return names
}

// SafeCollections returns the safelisted collection names, sorted.
func (t *Table) SafeCollections() []string {
	names := lo.Keys(t.safe)
	sort.Strings(names)
	return names
}

// Default builds the production policy table. Generated plans draw from g,
// so one Generator per run keeps identities unique across the run.
func Default(g *fake.Generator, extraSafe, extraOperators []string) *Table {
	entries := []Entry{
		{
			Collection: "opportunities",
			Plan: Generated([]string{"proposalEmail"}, func() Values {
				return Values{"proposalEmail": g.Email()}
			}),
		},
		{
			Collection: "orgs",
			Plan: Generated([]string{
				"name", "dba", "address", "address2", "city", "province", "postalcode",
				"fullAddress", "contactName", "contactEmail", "contactPhone", "website", "orgImageURL",
			}, func() Values {
				name := g.Generate(fake.Organization)
				return Values{
					"name":         name,
					"dba":          name,
					"address":      g.Generate(fake.Address),
					"city":         g.Generate(fake.City),
					"postalcode":   g.Generate(fake.PostalCode),
					"fullAddress":  g.Generate(fake.FullAddress),
					"contactName":  g.Generate(fake.ContactName),
					"contactEmail": g.Email(),
					"contactPhone": g.Generate(fake.Phone),
					"website":      g.Generate(fake.URL),
				}
			}),
		},
		{
			Collection: "profiles",
			Plan:       Blank("github", "stackOverflow", "stackExchange", "linkedIn", "website"),
		},
		{
			Collection: "programs",
			Plan:       Blank("owner"),
		},
		{
			Collection: "proposals",
			Plan: Generated([]string{
				"businessName", "businessAddress", "businessContactName",
				"businessContactEmail", "businessContactPhone",
			}, func() Values {
				return Values{
					"businessName":         g.Generate(fake.Organization),
					"businessAddress":      g.Generate(fake.FullAddress),
					"businessContactName":  g.Generate(fake.ContactName),
					"businessContactEmail": g.Email(),
					"businessContactPhone": g.Generate(fake.Phone),
				}
			}),
		},
		{
			Collection:       "users",
			DropIndexes:      true,
			ProtectOperators: true,
			Plan: Generated([]string{
				"firstName", "lastName", "displayName", "username", "email", "address", "phone",
				"businessName", "businessAddress", "businessAddress2", "businessCity",
				"businessProvince", "businessCode", "businessContactName", "businessContactEmail",
				"businessContactPhone", "profileImageURL", "providerData", "github",
				"stackOverflow", "stackExchange", "linkedIn", "website",
			}, func() Values {
				// email first: the account's own address takes the lowest alias.
				email := g.Email()
				first := g.FirstName()
				last := g.LastName()
				return Values{
					"email":                email,
					"firstName":            first,
					"lastName":             last,
					"displayName":          first + " " + last,
					"username":             g.Username(),
					"address":              g.Generate(fake.FullAddress),
					"phone":                g.Generate(fake.Phone),
					"businessName":         g.Generate(fake.Organization),
					"businessAddress":      g.Generate(fake.Address),
					"businessCity":         g.Generate(fake.City),
					"businessCode":         g.Generate(fake.PostalCode),
					"businessContactName":  g.Generate(fake.ContactName),
					"businessContactEmail": g.Email(),
					"businessContactPhone": g.Generate(fake.Phone),
				}
			}),
		},
	}

	safe := append(append([]string{}, SafeCollections...), extraSafe...)
	operators := append(append([]string{}, OperatorUsernames...), extraOperators...)
	return NewTable(entries, safe, operators)
}
