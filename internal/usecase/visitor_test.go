package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
)

func newVisitorFixture(t *testing.T) (*VisitorService, *fakeAuthRepo, *SessionService) {
	t.Helper()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAuthRepo()
	sessions := newTestSession(t, repo, now)
	return NewVisitorService(repo, sessions, 32, nil), repo, sessions
}

func TestVisitCreatesAnonymousAccount(t *testing.T) {
	svc, repo, sessions := newVisitorFixture(t)
	repo.addGroup("guests", true)

	account, key, token, err := svc.Visit(context.Background(), "guests", domain.LanguageFA)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotEmpty(t, token)
	assert.Equal(t, domain.LanguageFA, account.User.Language)
	assert.Equal(t, domain.MethodVisitorKey, account.Method.Kind)
	assert.Nil(t, account.Method.IdentifierID, "visitors carry no identifier")

	// The minted token is immediately usable.
	_, _, err = sessions.Authenticate(context.Background(), token)
	require.NoError(t, err)
}

func TestVisitRejectsNonBaseGroup(t *testing.T) {
	svc, repo, _ := newVisitorFixture(t)
	repo.addGroup("staff", false)

	_, _, _, err := svc.Visit(context.Background(), "staff", domain.LanguageEN)

	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, domain.AuthAccessDenied, authErr.Kind)
}

func TestVisitUnknownGroup(t *testing.T) {
	svc, _, _ := newVisitorFixture(t)

	_, _, _, err := svc.Visit(context.Background(), "nowhere", domain.LanguageEN)

	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, domain.AuthAccountNotFound, authErr.Kind)
}

func TestVisitRetriesCollidingKeys(t *testing.T) {
	svc, repo, _ := newVisitorFixture(t)
	repo.addGroup("guests", true)

	svc.generateKey = func(int) (string, error) { return "occupied", nil }
	_, key, _, err := svc.Visit(context.Background(), "guests", domain.LanguageEN)
	require.NoError(t, err)
	require.Equal(t, "occupied", key)

	// The second visit draws the taken key first and moves on.
	draws := []string{"occupied", "fresh"}
	svc.generateKey = func(int) (string, error) {
		key := draws[0]
		draws = draws[1:]
		return key, nil
	}

	_, key, _, err = svc.Visit(context.Background(), "guests", domain.LanguageEN)
	require.NoError(t, err)
	assert.Equal(t, "fresh", key)
	assert.Empty(t, draws, "both candidates were drawn")
}

func TestVisitFailsWhenKeySpaceStaysTaken(t *testing.T) {
	svc, repo, _ := newVisitorFixture(t)
	repo.addGroup("guests", true)

	svc.generateKey = func(int) (string, error) { return "occupied", nil }
	_, _, _, err := svc.Visit(context.Background(), "guests", domain.LanguageEN)
	require.NoError(t, err)

	before := len(repo.methods)
	_, _, _, err = svc.Visit(context.Background(), "guests", domain.LanguageEN)
	require.Error(t, err)
	assert.Len(t, repo.methods, before, "a failed visit must not leave a half-made account")
}

func TestVisitorLoginByKey(t *testing.T) {
	svc, repo, _ := newVisitorFixture(t)
	repo.addGroup("guests", true)

	first, key, _, err := svc.Visit(context.Background(), "guests", domain.LanguageEN)
	require.NoError(t, err)

	returning, token, err := svc.Login(context.Background(), key)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, first.User.ID, returning.User.ID)

	_, _, err = svc.Login(context.Background(), "no-such-key")
	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, domain.AuthAccountNotFound, authErr.Kind)
}
