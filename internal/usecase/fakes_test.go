package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/security"
	"github.com/Afshari9978/avishan/internal/repository"
)

// fakeAuthRepo keeps the whole auth graph in maps. Reads hand out copies so a
// test cannot mutate stored rows without going through UpdateMethod.
type fakeAuthRepo struct {
	groups      map[int64]domain.UserGroup
	users       map[int64]domain.User
	memberships map[int64]domain.UserUserGroup
	identifiers map[int64]domain.Identifier
	methods     map[int64]domain.AuthMethod

	nextID int64

	updateMethodErr error
	verifyErr       error
}

func newFakeAuthRepo() *fakeAuthRepo {
	return &fakeAuthRepo{
		groups:      make(map[int64]domain.UserGroup),
		users:       make(map[int64]domain.User),
		memberships: make(map[int64]domain.UserUserGroup),
		identifiers: make(map[int64]domain.Identifier),
		methods:     make(map[int64]domain.AuthMethod),
	}
}

func (r *fakeAuthRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *fakeAuthRepo) addGroup(title string, base bool) *domain.UserGroup {
	g := domain.UserGroup{ID: r.id(), Title: title, TokenValidSeconds: 3600, IsBaseGroup: base}
	r.groups[g.ID] = g
	return &g
}

func (r *fakeAuthRepo) GroupByTitle(_ context.Context, title string) (*domain.UserGroup, error) {
	for _, g := range r.groups {
		if g.Title == title {
			copied := g
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAuthRepo) GroupByID(_ context.Context, id int64) (*domain.UserGroup, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := g
	return &copied, nil
}

func (r *fakeAuthRepo) UserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := u
	return &copied, nil
}

func (r *fakeAuthRepo) MembershipByID(_ context.Context, id int64) (*domain.UserUserGroup, error) {
	m, ok := r.memberships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := m
	return &copied, nil
}

func (r *fakeAuthRepo) IdentifierByKey(_ context.Context, kind domain.IdentifierKind, key string) (*domain.Identifier, error) {
	for _, i := range r.identifiers {
		if i.Kind == kind && i.Key == key {
			copied := i
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAuthRepo) MarkIdentifierVerified(_ context.Context, id int64, at time.Time) error {
	if r.verifyErr != nil {
		return r.verifyErr
	}
	i, ok := r.identifiers[id]
	if !ok {
		return repository.ErrNotFound
	}
	verified := at
	i.DateVerified = &verified
	r.identifiers[id] = i
	return nil
}

func (r *fakeAuthRepo) MethodByID(_ context.Context, kind domain.MethodKind, id int64) (*domain.AuthMethod, error) {
	m, ok := r.methods[id]
	if !ok || m.Kind != kind {
		return nil, repository.ErrNotFound
	}
	copied := m
	return &copied, nil
}

func (r *fakeAuthRepo) MethodsByIdentifier(_ context.Context, kind domain.MethodKind, identifierID int64) ([]domain.AuthMethod, error) {
	var out []domain.AuthMethod
	for _, m := range r.methods {
		if m.Kind == kind && m.IdentifierID != nil && *m.IdentifierID == identifierID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeAuthRepo) MethodByIdentifierAndGroup(_ context.Context, kind domain.MethodKind, identifierID, groupID int64) (*domain.AuthMethod, error) {
	for _, m := range r.methods {
		if m.Kind != kind || m.IdentifierID == nil || *m.IdentifierID != identifierID {
			continue
		}
		membership, ok := r.memberships[m.UserUserGroupID]
		if ok && membership.UserGroupID == groupID {
			copied := m
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAuthRepo) MethodByVisitorKey(_ context.Context, key string) (*domain.AuthMethod, error) {
	for _, m := range r.methods {
		if m.Kind == domain.MethodVisitorKey && m.VisitorKey == key {
			copied := m
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAuthRepo) UpdateMethod(_ context.Context, m *domain.AuthMethod) error {
	if r.updateMethodErr != nil {
		return r.updateMethodErr
	}
	if _, ok := r.methods[m.ID]; !ok {
		return repository.ErrNotFound
	}
	r.methods[m.ID] = *m
	return nil
}

func (r *fakeAuthRepo) CreateMethodForMembership(_ context.Context, membershipID int64, m *domain.AuthMethod) (*domain.AuthMethod, error) {
	if _, ok := r.memberships[membershipID]; !ok {
		return nil, repository.ErrNotFound
	}
	created := *m
	created.ID = r.id()
	created.UserUserGroupID = membershipID
	r.methods[created.ID] = created
	return &created, nil
}

func (r *fakeAuthRepo) RegisterAccount(_ context.Context, reg port.Registration) (*domain.AuthMethod, *domain.UserUserGroup, *domain.User, error) {
	user := domain.User{ID: r.id(), IsActive: true, Language: reg.Language, DateCreated: time.Now()}
	r.users[user.ID] = user

	membership := domain.UserUserGroup{
		ID: r.id(), UserID: user.ID, UserGroupID: reg.Group.ID,
		IsActive: true, DateCreated: time.Now(),
	}
	r.memberships[membership.ID] = membership

	method := reg.Method
	method.ID = r.id()
	method.UserUserGroupID = membership.ID

	if reg.Identifier != nil {
		var identifierID int64
		for _, existing := range r.identifiers {
			if existing.Kind == reg.Identifier.Kind && existing.Key == reg.Identifier.Key {
				identifierID = existing.ID
			}
		}
		if identifierID == 0 {
			identifier := *reg.Identifier
			identifier.ID = r.id()
			r.identifiers[identifier.ID] = identifier
			identifierID = identifier.ID
		}
		method.IdentifierID = &identifierID
	}

	r.methods[method.ID] = method

	methodCopy := method
	membershipCopy := membership
	userCopy := user
	return &methodCopy, &membershipCopy, &userCopy, nil
}

// seededAccount is the graph one seedAccount call creates.
type seededAccount struct {
	group      *domain.UserGroup
	user       domain.User
	membership domain.UserUserGroup
	identifier domain.Identifier
	method     domain.AuthMethod
}

// seedAccount provisions a key_value account with the given password in a new
// group, mirroring what RegisterAccount would produce.
func seedAccount(t *testing.T, repo *fakeAuthRepo, groupTitle, key, password string) seededAccount {
	t.Helper()

	group := repo.addGroup(groupTitle, true)

	hashed, err := security.HashPassword(password)
	require.NoError(t, err)

	method, membership, user, err := repo.RegisterAccount(context.Background(), port.Registration{
		Group:      group,
		Language:   domain.LanguageEN,
		Identifier: &domain.Identifier{Kind: domain.IdentifierEmail, Key: key},
		Method: domain.AuthMethod{
			Kind:           domain.MethodKeyValue,
			IdentifierKind: domain.IdentifierEmail,
			HashedPassword: &hashed,
		},
	})
	require.NoError(t, err)

	return seededAccount{
		group:      group,
		user:       *user,
		membership: *membership,
		identifier: repo.identifiers[*method.IdentifierID],
		method:     *method,
	}
}

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestSession(t *testing.T, repo *fakeAuthRepo, at time.Time) *SessionService {
	t.Helper()
	codec, err := security.NewTokenCodec("usecase-test-key")
	require.NoError(t, err)
	codec.WithClock(testClock(at))
	return NewSessionService(repo, codec, nil).WithClock(testClock(at))
}
