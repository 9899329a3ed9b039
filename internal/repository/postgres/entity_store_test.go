package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/descriptor"
)

// author/book form the parent/child shape where the child carries the OBJECT
// back reference the array hydration reads.
type author struct {
	ID    int64  `model:"id"`
	Name  string `model:"name"`
	Books []book `model:"books"`
}

type book struct {
	ID     int64   `model:"id"`
	Title  string  `model:"title"`
	Author *author `model:"author"`
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func newFakeRows(rows [][]any) *fakeRows {
	return &fakeRows{rows: rows, idx: -1}
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d targets for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		target, ok := d.(*any)
		if !ok {
			return fmt.Errorf("scan target %d: unexpected %T", i, d)
		}
		*target = row[i]
	}
	return nil
}

// fakeExec serves canned author and book rows and counts the queries each
// table receives.
type fakeExec struct {
	authors [][]any // id, name
	books   [][]any // id, title, author_id

	authorQueries int
	bookQueries   int
}

func (f *fakeExec) Query(_ context.Context, stmt string, args ...any) (pgx.Rows, error) {
	switch {
	case strings.Contains(stmt, "FROM authors"):
		f.authorQueries++
		return newFakeRows(filterRows(f.authors, 0, args)), nil
	case strings.Contains(stmt, "FROM books"):
		f.bookQueries++
		if strings.Contains(stmt, "author_id = $1") {
			return newFakeRows(filterRows(f.books, 2, args)), nil
		}
		return newFakeRows(filterRows(f.books, 0, args)), nil
	}
	return nil, fmt.Errorf("unexpected query %q", stmt)
}

func (f *fakeExec) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("QueryRow is not expected here")
}

func (f *fakeExec) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func filterRows(rows [][]any, keyIndex int, args []any) [][]any {
	if len(args) == 0 {
		return rows
	}
	matched := make([][]any, 0, len(rows))
	for _, row := range rows {
		if row[keyIndex] == args[0] {
			matched = append(matched, row)
		}
	}
	return matched
}

func newBackRefStore(t *testing.T) (*EntityStore, *fakeExec, *descriptor.Project) {
	t.Helper()

	catalog, err := descriptor.NewRegistry().
		Register(descriptor.Definition{Target: author{}, Storable: true}).
		Register(descriptor.Definition{Target: book{}, Storable: true}).
		Build()
	require.NoError(t, err)

	exec := &fakeExec{
		authors: [][]any{
			{int64(1), "Morgan"},
			{int64(2), "Avery"},
		},
		books: [][]any{
			{int64(10), "First", int64(1)},
			{int64(11), "Second", int64(1)},
			{int64(12), "Other shelf", int64(2)},
		},
	}

	store := &EntityStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		catalog: catalog,
	}
	return store, exec, catalog
}

func TestGetFillsChildrenOneLevelDeep(t *testing.T) {
	store, exec, catalog := newBackRefStore(t)
	authors, _ := catalog.Entity("author")

	instance, err := store.Get(context.Background(), authors, 1)
	require.NoError(t, err)

	children, ok := instance["books"].([]descriptor.Instance)
	require.True(t, ok, "books should hydrate from the child table")
	require.Len(t, children, 2)
	assert.Equal(t, "First", children[0]["title"])
	assert.Equal(t, "Second", children[1]["title"])

	// The children keep their parent reference as the raw key; following it
	// back up would loop forever.
	assert.Equal(t, int64(1), children[0]["author"])
	assert.Equal(t, int64(1), children[1]["author"])

	assert.Equal(t, 1, exec.authorQueries, "the parent row loads exactly once")
	assert.Equal(t, 1, exec.bookQueries, "the children load in one query")
}

func TestGetFillsParentWithoutItsChildren(t *testing.T) {
	store, exec, catalog := newBackRefStore(t)
	books, _ := catalog.Entity("book")

	instance, err := store.Get(context.Background(), books, 10)
	require.NoError(t, err)

	parent, ok := instance["author"].(descriptor.Instance)
	require.True(t, ok, "the OBJECT reference should hydrate to the referent row")
	assert.Equal(t, "Morgan", parent["name"])

	_, hasBooks := parent["books"]
	assert.False(t, hasBooks, "the embedded parent must not pull its own children")

	assert.Equal(t, 1, exec.bookQueries)
	assert.Equal(t, 1, exec.authorQueries)
}

func TestListScopesChildrenToTheirParent(t *testing.T) {
	store, _, catalog := newBackRefStore(t)
	authors, _ := catalog.Entity("author")

	instances, err := store.List(context.Background(), authors, nil)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	first := instances[0]["books"].([]descriptor.Instance)
	second := instances[1]["books"].([]descriptor.Instance)
	assert.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "Other shelf", second[0]["title"])
}
