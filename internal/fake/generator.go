// Package fake produces synthetic replacement values for sensitive fields.
//
// A Generator owns the uniqueness state for one scrub run: values it has
// issued for unique categories and the email alias counter. Nothing is kept
// in package-level variables, so parallel tests and runs never interfere.
package fake

import (
	"fmt"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// Category names a kind of synthetic value.
type Category string

const (
	Address      Category = "address"
	FullAddress  Category = "full_address"
	City         Category = "city"
	PostalCode   Category = "postal_code"
	Organization Category = "organization"
	ContactName  Category = "contact_name"
	Phone        Category = "phone"
	Email        Category = "email"
	Username     Category = "username"
	FirstName    Category = "first_name"
	LastName     Category = "last_name"
	URL          Category = "url"
)

// DefaultMaxAttempts bounds the number of draws spent looking for an unseen
// value before a numeric disambiguator is appended.
const DefaultMaxAttempts = 1000

// Options configures a Generator.
type Options struct {
	Seed        uint64 // 0 = random
	EmailBase   string // local part of the aliased address
	EmailDomain string
	MaxAttempts int
}

// Generator issues synthetic values. Categories in Unique never repeat within
// the lifetime of a Generator.
type Generator struct {
	mu          sync.Mutex
	faker       *gofakeit.Faker
	emailBase   string
	emailDomain string
	maxAttempts int

	emailCount int
	issued     map[Category]map[string]struct{}
	overflow   map[Category]int
}

// Unique lists the categories whose values are registered and never reissued.
var Unique = []Category{Username, FirstName, LastName}

// New creates a Generator.
func New(opts Options) *Generator {
	if opts.EmailBase == "" {
		opts.EmailBase = "bcdevelopersexchange"
	}
	if opts.EmailDomain == "" {
		opts.EmailDomain = "gmail.com"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	issued := make(map[Category]map[string]struct{}, len(Unique))
	for _, c := range Unique {
		issued[c] = make(map[string]struct{})
	}

	return &Generator{
		faker:       gofakeit.New(opts.Seed),
		emailBase:   opts.EmailBase,
		emailDomain: opts.EmailDomain,
		maxAttempts: opts.MaxAttempts,
		issued:      issued,
		overflow:    make(map[Category]int),
	}
}

// Generate returns a fresh value for the category. Unknown categories yield
// an empty string.
func (g *Generator) Generate(c Category) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generate(c)
}

func (g *Generator) generate(c Category) string {
	f := g.faker
	switch c {
	case Address:
		return f.Street()
	case FullAddress:
		return fmt.Sprintf("%s, %s, BC %s", f.Street(), f.City(), f.Zip())
	case City:
		return f.City()
	case PostalCode:
		return f.Zip()
	case Organization:
		return f.Company()
	case ContactName:
		return f.Name()
	case Phone:
		return f.Phone()
	case URL:
		return f.URL()
	case Email:
		return g.nextEmail()
	case Username:
		return g.unique(c, f.Username)
	case FirstName:
		return g.unique(c, f.FirstName)
	case LastName:
		return g.unique(c, f.LastName)
	default:
		return ""
	}
}

// Email returns the next aliased address: base@domain, base+1@domain, ...
func (g *Generator) Email() string { return g.Generate(Email) }

// Username returns a username never issued before by this Generator.
func (g *Generator) Username() string { return g.Generate(Username) }

// FirstName returns a first name never issued before by this Generator.
func (g *Generator) FirstName() string { return g.Generate(FirstName) }

// LastName returns a last name never issued before by this Generator.
func (g *Generator) LastName() string { return g.Generate(LastName) }

// Issued reports how many values of a unique category have been handed out.
func (g *Generator) Issued(c Category) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.issued[c])
}

func (g *Generator) nextEmail() string {
	n := g.emailCount
	g.emailCount++
	if n == 0 {
		return fmt.Sprintf("%s@%s", g.emailBase, g.emailDomain)
	}
	return fmt.Sprintf("%s+%d@%s", g.emailBase, n, g.emailDomain)
}

// unique draws until it finds a value not yet issued for the category. Once
// maxAttempts draws have collided, a per-category counter suffix is appended
// so the loop always terminates.
func (g *Generator) unique(c Category, draw func() string) string {
	seen := g.issued[c]
	for i := 0; i < g.maxAttempts; i++ {
		v := strings.TrimSpace(draw())
		if _, ok := seen[v]; !ok && v != "" {
			seen[v] = struct{}{}
			return v
		}
	}
	for {
		g.overflow[c]++
		v := fmt.Sprintf("%s%d", strings.TrimSpace(draw()), g.overflow[c])
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			return v
		}
	}
}
