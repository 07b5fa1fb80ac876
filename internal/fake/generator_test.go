package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailSequence(t *testing.T) {
	g := New(Options{Seed: 1})

	want := []string{
		"bcdevelopersexchange@gmail.com",
		"bcdevelopersexchange+1@gmail.com",
		"bcdevelopersexchange+2@gmail.com",
		"bcdevelopersexchange+3@gmail.com",
	}
	for i, w := range want {
		assert.Equal(t, w, g.Email(), "call %d", i)
	}
}

func TestEmailCustomBase(t *testing.T) {
	g := New(Options{EmailBase: "qa", EmailDomain: "example.org"})
	assert.Equal(t, "qa@example.org", g.Email())
	assert.Equal(t, "qa+1@example.org", g.Email())
}

func TestEmailCountersAreIndependent(t *testing.T) {
	a := New(Options{})
	b := New(Options{})

	a.Email()
	a.Email()
	assert.Equal(t, "bcdevelopersexchange@gmail.com", b.Email(), "a second generator starts its own sequence")
}

func TestUniqueCategoriesNeverRepeat(t *testing.T) {
	g := New(Options{Seed: 7})

	for _, c := range Unique {
		seen := make(map[string]bool)
		for i := 0; i < 500; i++ {
			v := g.Generate(c)
			require.NotEmpty(t, v)
			require.False(t, seen[v], "%s repeated value %q", c, v)
			seen[v] = true
		}
		assert.Equal(t, 500, g.Issued(c))
	}
}

func TestUniqueOverflowAppendsSuffix(t *testing.T) {
	g := New(Options{MaxAttempts: 3})
	draw := func() string { return "dup" }

	assert.Equal(t, "dup", g.unique(Username, draw))
	assert.Equal(t, "dup1", g.unique(Username, draw))
	assert.Equal(t, "dup2", g.unique(Username, draw))
	assert.Equal(t, 3, g.Issued(Username))
}

func TestSeedIsReproducible(t *testing.T) {
	a := New(Options{Seed: 99})
	b := New(Options{Seed: 99})

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.FirstName(), b.FirstName())
		assert.Equal(t, a.Generate(Organization), b.Generate(Organization))
	}
}

func TestGenerateCategories(t *testing.T) {
	g := New(Options{Seed: 3})

	for _, c := range []Category{Address, FullAddress, City, PostalCode, Organization, ContactName, Phone, URL} {
		assert.NotEmpty(t, g.Generate(c), "category %s", c)
	}
	assert.Empty(t, g.Generate(Category("nope")))
}
