package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
)

func newRegisterFixture(t *testing.T) (*RegisterService, *fakeAuthRepo) {
	t.Helper()
	repo := newFakeAuthRepo()
	repo.addGroup("customers", true)
	return NewRegisterService(repo, nil), repo
}

func TestRegisterKeyValueAccount(t *testing.T) {
	svc, repo := newRegisterFixture(t)

	account, err := svc.Register(context.Background(), RegisterParams{
		Strategy:       domain.MethodKeyValue,
		IdentifierKind: domain.IdentifierEmail,
		Key:            "new@example.com",
		Password:       "pw",
		GroupTitle:     "customers",
		Language:       domain.LanguageEN,
	})
	require.NoError(t, err)
	require.NotNil(t, account.Method.HashedPassword)
	assert.True(t, account.User.IsActive)
	assert.True(t, account.Membership.IsActive)

	// The minted credentials log in.
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	login := NewKeyValueService(repo, newTestSession(t, repo, now), nil)
	_, token, err := login.Login(context.Background(), domain.IdentifierEmail, "new@example.com", "pw", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestRegisterDuplicateIdentifier(t *testing.T) {
	svc, _ := newRegisterFixture(t)

	params := RegisterParams{
		Strategy:       domain.MethodKeyValue,
		IdentifierKind: domain.IdentifierEmail,
		Key:            "dup@example.com",
		Password:       "pw",
		GroupTitle:     "customers",
		Language:       domain.LanguageEN,
	}
	_, err := svc.Register(context.Background(), params)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), params)
	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, domain.AuthDuplicateIdentifier, authErr.Kind)
}

func TestRegisterSameIdentifierDifferentGroup(t *testing.T) {
	svc, repo := newRegisterFixture(t)
	repo.addGroup("staff", false)

	params := RegisterParams{
		Strategy:       domain.MethodKeyValue,
		IdentifierKind: domain.IdentifierEmail,
		Key:            "both@example.com",
		Password:       "pw",
		GroupTitle:     "customers",
		Language:       domain.LanguageEN,
	}
	_, err := svc.Register(context.Background(), params)
	require.NoError(t, err)

	params.GroupTitle = "staff"
	second, err := svc.Register(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "staff", second.Group.Title)

	// Both methods share the identifier row.
	identifier, err := repo.IdentifierByKey(context.Background(), domain.IdentifierEmail, "both@example.com")
	require.NoError(t, err)
	methods, err := repo.MethodsByIdentifier(context.Background(), domain.MethodKeyValue, identifier.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 2)
}

func TestRegisterUnknownGroup(t *testing.T) {
	svc, _ := newRegisterFixture(t)

	_, err := svc.Register(context.Background(), RegisterParams{
		Strategy:       domain.MethodKeyValue,
		IdentifierKind: domain.IdentifierEmail,
		Key:            "x@example.com",
		Password:       "pw",
		GroupTitle:     "nowhere",
	})

	var msgErr *domain.MessageError
	require.True(t, errors.As(err, &msgErr))
	assert.Equal(t, http.StatusNotFound, msgErr.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newRegisterFixture(t)

	t.Run("empty key", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{
			Strategy:       domain.MethodKeyValue,
			IdentifierKind: domain.IdentifierEmail,
			GroupTitle:     "customers",
			Password:       "pw",
		})
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "key", vErr.Field)
	})

	t.Run("key_value without password", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{
			Strategy:       domain.MethodKeyValue,
			IdentifierKind: domain.IdentifierEmail,
			Key:            "x@example.com",
			GroupTitle:     "customers",
		})
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "password", vErr.Field)
	})
}

func TestRegisterOtpNeedsNoPassword(t *testing.T) {
	svc, _ := newRegisterFixture(t)

	account, err := svc.Register(context.Background(), RegisterParams{
		Strategy:       domain.MethodOtp,
		IdentifierKind: domain.IdentifierPhone,
		Key:            "+15550001111",
		GroupTitle:     "customers",
		Language:       domain.LanguageEN,
	})
	require.NoError(t, err)
	assert.Nil(t, account.Method.HashedPassword)
}
