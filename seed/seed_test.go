package seed_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/seed"
)

type fixture struct {
	acc                          *accessor.Accessor
	author, book, magazine, note *model.Entity
	publication                  *model.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := model.New()
	f := &fixture{}
	f.author = model.NewEntity("author")
	f.author.Attributes = []*model.Attribute{{Name: "name", Type: "String", Required: true}}
	f.book = model.NewEntity("book")
	f.book.Attributes = []*model.Attribute{{Name: "title", Type: "String"}}
	f.book.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: f.author, Required: true}}
	f.magazine = model.NewEntity("magazine")
	f.magazine.Attributes = []*model.Attribute{{Name: "title", Type: "String"}}
	f.magazine.AssocToMany = []*model.Association{{Kind: model.AssocToMany, Target: f.author}}
	f.publication = model.NewEntity("publication")
	f.publication.Union = []string{"book", "magazine"}
	f.note = model.NewEntity("note")
	f.note.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: f.publication}}
	for _, e := range []*model.Entity{f.author, f.book, f.magazine, f.publication, f.note} {
		require.NoError(t, m.AddEntity(e))
	}
	f.acc = accessor.New(m, memory.New())
	return f
}

func (f *fixture) get(t *testing.T, e *model.Entity, id string) veloql.Item {
	t.Helper()
	item, err := f.acc.FindByID(context.Background(), e, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestSeedTwoPhases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.author.Seeds = map[string]veloql.Item{}
	f.book.Seeds = map[string]veloql.Item{}
	for i := range 50 {
		name := fmt.Sprintf("a%02d", i)
		f.author.Seeds[name] = veloql.Item{"name": name}
		f.book.Seeds[fmt.Sprintf("b%02d", i)] = veloql.Item{"title": name, "author": name}
	}

	report, err := seed.New(f.acc, seed.WithWorkers(16)).Seed(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 100, report.Count())
	for i := range 50 {
		book := f.get(t, f.book, report.IDs["book"][fmt.Sprintf("b%02d", i)])
		assert.Equal(t, report.IDs["author"][fmt.Sprintf("a%02d", i)], book["authorId"])
	}
}

func TestSeedAssociations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.author.Seeds = map[string]veloql.Item{"alice": {"name": "Alice"}, "bob": {"name": "Bob"}}
	f.book.Seeds = map[string]veloql.Item{"dune": {"title": "Dune", "author": "alice"}}
	f.magazine.Seeds = map[string]veloql.Item{
		"dune": {"title": "Weekly", "authors": []any{"alice", "bob", "nobody"}},
	}
	f.note.Seeds = map[string]veloql.Item{
		"first":  {"publication": "dune"},
		"second": {"publication": map[string]any{"type": "Magazine", "seed": "dune"}},
	}

	report, err := seed.New(f.acc).Seed(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	ids := report.IDs

	mag := f.get(t, f.magazine, ids["magazine"]["dune"])
	assert.Equal(t, []any{ids["author"]["alice"], ids["author"]["bob"]}, mag["authorIds"])
	first := f.get(t, f.note, ids["note"]["first"])
	assert.Equal(t, ids["book"]["dune"], first["publicationId"])
	assert.Equal(t, "Book", first["publicationType"])
	second := f.get(t, f.note, ids["note"]["second"])
	assert.Equal(t, ids["magazine"]["dune"], second["publicationId"])
	assert.Equal(t, "Magazine", second["publicationType"])
}

func TestSeedPrunesInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.author.Seeds = map[string]veloql.Item{"alice": {"name": "Alice"}, "nameless": {}}
	f.book.Seeds = map[string]veloql.Item{
		"ok":     {"title": "Dune", "author": "alice"},
		"ghost":  {"title": "Ghost", "author": "nobody"},
		"orphan": {"title": "Orphan", "author": "nameless"},
	}

	report, err := seed.New(f.acc).Seed(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"author": {"alice": report.IDs["author"]["alice"]},
		"book":   {"ok": report.IDs["book"]["ok"]},
	}, report.IDs)
	assert.ElementsMatch(t, []string{
		"author nameless: name can't be blank",
		"book ghost: authorId can't be blank",
		"book orphan: authorId references a missing record",
	}, report.Violations)

	for e, want := range map[*model.Entity]int{f.author: 1, f.book: 1} {
		n, err := f.acc.Count(ctx, e, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, want, n, e.Name)
	}
}

func TestSeedUncoercible(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.author.Attributes = append(f.author.Attributes, &model.Attribute{Name: "age", Type: "Int"})
	f.author.Seeds = map[string]veloql.Item{
		"alice": {"name": "Alice", "age": 42},
		"old":   {"name": "Old", "age": "not-a-number"},
	}
	f.book.Seeds = map[string]veloql.Item{"memoir": {"title": "Memoir", "author": "old"}}

	report, err := seed.New(f.acc).Seed(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"author": {"alice": report.IDs["author"]["alice"]},
	}, report.IDs)
	assert.NotEmpty(t, report.IDs["author"]["alice"])
	require.Len(t, report.Violations, 2)
	assert.Contains(t, report.Violations, "book memoir: authorId can't be blank")
	var found bool
	for _, v := range report.Violations {
		if strings.HasPrefix(v, "author old: age ") {
			found = true
		}
	}
	assert.True(t, found, "the uncoercible seed is reported: %v", report.Violations)

	for e, want := range map[*model.Entity]int{f.author: 1, f.book: 0} {
		n, err := f.acc.Count(ctx, e, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, want, n, e.Name)
	}
}

func TestSeedTruncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.acc.Create(ctx, f.author, veloql.Item{"name": "Existing"})
	require.NoError(t, err)
	f.author.Seeds = map[string]veloql.Item{"alice": {"name": "Alice"}}

	for _, tt := range []struct {
		truncate bool
		want     int
	}{
		{truncate: false, want: 2},
		{truncate: true, want: 1},
	} {
		_, err := seed.New(f.acc).Seed(ctx, tt.truncate)
		require.NoError(t, err)
		n, err := f.acc.Count(ctx, f.author, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "truncate=%v", tt.truncate)
	}
}
