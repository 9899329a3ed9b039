package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/envelope"
	"github.com/Afshari9978/avishan/internal/repository"
)

type author struct {
	ID   int64  `model:"id"`
	Name string `model:"name"`
}

type book struct {
	ID          int64      `model:"id"`
	Title       string     `model:"title"`
	Pages       *int64     `model:"pages"`
	Author      *author    `model:"author"`
	Tags        []string   `model:"tags,optional"`
	Secret      string     `model:"secret,optional"`
	PublishedAt *time.Time `model:"published_at,kind=date"`
	DateCreated time.Time  `model:"date_created"`
}

func testCatalog(t *testing.T) *descriptor.Project {
	t.Helper()

	registry := descriptor.NewRegistry()
	registry.Register(descriptor.Definition{
		Target:        author{},
		Storable:      true,
		CompactFields: []string{"name"},
	})
	registry.Register(descriptor.Definition{
		Target:        book{},
		Storable:      true,
		PrivateFields: []string{"secret"},
	})
	registry.Register(descriptor.Definition{
		Target: struct{ ID int64 }{},
		Name:   "Gadget",
		Attributes: []descriptor.AttributeDescriptor{
			{Name: "id", Type: descriptor.TypeInt},
		},
		Callables: []*descriptor.CallableDescriptor{
			{
				Name: "ping", Static: true, Verb: descriptor.VerbPost,
				Handler: func(ctx context.Context, call *descriptor.CallContext) (any, error) {
					return map[string]any{"pong": true}, nil
				},
			},
			{
				Name: "secure", Static: true, Verb: descriptor.VerbPost,
				Authenticate: true,
				Handler: func(ctx context.Context, call *descriptor.CallContext) (any, error) {
					return map[string]any{"ok": true}, nil
				},
			},
			{
				Name: "export", Static: true, Verb: descriptor.VerbPost,
				Handler: func(ctx context.Context, call *descriptor.CallContext) (any, error) {
					return &descriptor.RawResponse{
						Status:      200,
						ContentType: "text/csv",
						Body:        []byte("id,name\n"),
					}, nil
				},
			},
			{
				Name: "merge", Static: true, Verb: descriptor.VerbPost,
				DismissResponseKey: true,
				Handler: func(ctx context.Context, call *descriptor.CallContext) (any, error) {
					return map[string]any{"left": 1, "right": 2}, nil
				},
			},
		},
	})

	catalog, err := registry.Build()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

// fakeStore is an in-memory entity store keyed by entity plural.
type fakeStore struct {
	data      map[string]map[int64]descriptor.Instance
	nextID    map[string]int64
	listConds []port.Condition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:   make(map[string]map[int64]descriptor.Instance),
		nextID: make(map[string]int64),
	}
}

func (f *fakeStore) table(e *descriptor.EntityDescriptor) map[int64]descriptor.Instance {
	rows, ok := f.data[e.Plural]
	if !ok {
		rows = make(map[int64]descriptor.Instance)
		f.data[e.Plural] = rows
	}
	return rows
}

func (f *fakeStore) seed(e *descriptor.EntityDescriptor, instance descriptor.Instance) int64 {
	rows := f.table(e)
	id, ok := instance.ID()
	if !ok {
		f.nextID[e.Plural]++
		id = f.nextID[e.Plural]
		instance["id"] = id
	} else if id > f.nextID[e.Plural] {
		f.nextID[e.Plural] = id
	}
	rows[id] = instance
	return id
}

func (f *fakeStore) List(_ context.Context, e *descriptor.EntityDescriptor, conds []port.Condition) ([]descriptor.Instance, error) {
	f.listConds = conds
	rows := f.table(e)

	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]descriptor.Instance, 0, len(rows))
	for _, id := range ids {
		if matches(rows[id], conds) {
			out = append(out, copyInstance(rows[id]))
		}
	}
	return out, nil
}

// matches applies only equality conditions; the operator translation itself
// belongs to the SQL-backed store.
func matches(row descriptor.Instance, conds []port.Condition) bool {
	for _, cond := range conds {
		if cond.Op != "" && cond.Op != "eq" {
			continue
		}
		if row[cond.Field] != cond.Value {
			return false
		}
	}
	return true
}

func (f *fakeStore) Get(_ context.Context, e *descriptor.EntityDescriptor, id int64) (descriptor.Instance, error) {
	row, ok := f.table(e)[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyInstance(row), nil
}

func (f *fakeStore) Create(_ context.Context, e *descriptor.EntityDescriptor, fields map[string]any) (descriptor.Instance, error) {
	f.nextID[e.Plural]++
	id := f.nextID[e.Plural]

	row := descriptor.Instance{"id": id, "date_created": time.Now().UTC()}
	for k, v := range fields {
		row[k] = v
	}
	f.table(e)[id] = row
	return copyInstance(row), nil
}

func (f *fakeStore) Update(_ context.Context, e *descriptor.EntityDescriptor, id int64, fields map[string]any) (descriptor.Instance, error) {
	row, ok := f.table(e)[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for k, v := range fields {
		row[k] = v
	}
	return copyInstance(row), nil
}

func (f *fakeStore) Delete(_ context.Context, e *descriptor.EntityDescriptor, id int64) error {
	rows := f.table(e)
	if _, ok := rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(rows, id)
	return nil
}

func copyInstance(row descriptor.Instance) descriptor.Instance {
	out := make(descriptor.Instance, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

var _ port.EntityStore = (*fakeStore)(nil)

func newEnv(t *testing.T, method, target string, body any) *envelope.Envelope {
	t.Helper()

	var r = httptest.NewRequest(method, target, nil)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, target, bytes.NewReader(raw))
	}
	return envelope.New(r, domain.LanguageEN)
}

func testAccount() (*domain.AuthMethod, *domain.UserUserGroup, *domain.User, *domain.UserGroup) {
	method := &domain.AuthMethod{ID: 1, Kind: domain.MethodKeyValue, UserUserGroupID: 1}
	membership := &domain.UserUserGroup{ID: 1, UserID: 1, UserGroupID: 1, IsActive: true}
	user := &domain.User{ID: 1, IsActive: true, Language: domain.LanguageEN}
	group := &domain.UserGroup{ID: 1, Title: "member", TokenValidSeconds: 3600}
	return method, membership, user, group
}
