// Package usecase implements the authentication strategies and session
// lifecycle over the auth repository. Handlers call these services; all
// failures surface through the shared error taxonomy.
package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/security"
	"github.com/Afshari9978/avishan/internal/repository"
)

// Account bundles the four rows a live session resolves to.
type Account struct {
	Method     *domain.AuthMethod
	Membership *domain.UserUserGroup
	User       *domain.User
	Group      *domain.UserGroup
}

// SessionService validates tokens, binds them to live sessions, and mints the
// rolling replacements.
type SessionService struct {
	repo       port.AuthRepository
	codec      *security.TokenCodec
	logger     *zap.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

// NewSessionService constructs the session service.
func NewSessionService(repo port.AuthRepository, codec *security.TokenCodec, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:       repo,
		codec:      codec,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		defaultTTL: time.Hour,
	}
}

// WithClock overrides the service clock for deterministic testing.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithDefaultTokenTTL sets the system-wide token lifetime used for groups
// that do not declare their own.
func (s *SessionService) WithDefaultTokenTTL(ttl time.Duration) *SessionService {
	if ttl > 0 {
		s.defaultTTL = ttl
	}
	return s
}

// tokenTTL resolves the session lifetime: the group's token_valid_seconds,
// or the configured default when the group declares none.
func (s *SessionService) tokenTTL(group *domain.UserGroup) time.Duration {
	if group != nil && group.TokenValidSeconds > 0 {
		return group.TokenTTL()
	}
	return s.defaultTTL
}

// loadAccount resolves and liveness-checks the membership chain of a method.
func (s *SessionService) loadAccount(ctx context.Context, method *domain.AuthMethod) (*Account, error) {
	membership, err := s.repo.MembershipByID(ctx, method.UserUserGroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, err
	}
	if !membership.IsActive {
		return nil, domain.NewAuthError(domain.AuthGroupAccountNotActive)
	}

	user, err := s.repo.UserByID(ctx, membership.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.NewAuthError(domain.AuthAccountNotActive)
	}

	group, err := s.repo.GroupByID(ctx, membership.UserGroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, err
	}

	return &Account{Method: method, Membership: membership, User: user, Group: group}, nil
}

// Authenticate verifies the token and binds it to a live session. A token
// whose lgn no longer matches the stored last_login, or whose method has a
// later logout, is dead regardless of its expiry.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*Account, *security.TokenPayload, error) {
	payload, err := s.codec.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	kind, ok := domain.ParseMethodKind(payload.MethodKind)
	if !ok {
		return nil, nil, domain.NewAuthError(domain.AuthIncorrectToken)
	}

	method, err := s.repo.MethodByID(ctx, kind, payload.MethodID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, nil, err
	}

	if method.LastLogin == nil || method.LastLogin.Unix() != payload.LoginAt || !method.HasActiveLogin() {
		return nil, nil, domain.NewAuthError(domain.AuthDeactivatedToken)
	}

	account, err := s.loadAccount(ctx, method)
	if err != nil {
		return nil, nil, err
	}

	// last_used is advisory only; a failed write never fails the request.
	method.Touch(s.now())
	if err := s.repo.UpdateMethod(ctx, method); err != nil {
		s.logger.Warn("touch auth method failed", zap.Int64("method_id", method.ID), zap.Error(err))
	}

	return account, payload, nil
}

// Rebind re-issues the session token with a fresh expiry window.
func (s *SessionService) Rebind(payload *security.TokenPayload, group *domain.UserGroup) (string, error) {
	return s.codec.Rebind(payload, s.tokenTTL(group))
}

// CompleteLogin advances last_login, persists the method, and mints the token
// bound to the new login moment.
func (s *SessionService) CompleteLogin(ctx context.Context, account *Account) (string, error) {
	account.Method.CompleteLogin(s.now())
	if err := s.repo.UpdateMethod(ctx, account.Method); err != nil {
		return "", err
	}
	return s.codec.Mint(account.Method.Kind, account.Method.ID, *account.Method.LastLogin, s.tokenTTL(account.Group))
}

// Logout stamps last_logout, which deadens every token minted for the current
// login without any blacklist.
func (s *SessionService) Logout(ctx context.Context, method *domain.AuthMethod) error {
	method.CompleteLogout(s.now())
	return s.repo.UpdateMethod(ctx, method)
}

// resolveMethod finds the unique method for (identifier key, strategy) and,
// when ambiguous across groups, requires the caller to name the group.
func resolveMethod(ctx context.Context, repo port.AuthRepository, strategy domain.MethodKind, idKind domain.IdentifierKind, key, groupTitle string) (*domain.AuthMethod, error) {
	identifier, err := repo.IdentifierByKey(ctx, idKind, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, err
	}

	if groupTitle != "" {
		group, err := repo.GroupByTitle(ctx, groupTitle)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NewAuthError(domain.AuthAccountNotFound)
			}
			return nil, err
		}
		method, err := repo.MethodByIdentifierAndGroup(ctx, strategy, identifier.ID, group.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NewAuthError(domain.AuthAccountNotFound)
			}
			return nil, err
		}
		return method, nil
	}

	methods, err := repo.MethodsByIdentifier(ctx, strategy, identifier.ID)
	if err != nil {
		return nil, err
	}
	switch len(methods) {
	case 0:
		return nil, domain.NewAuthError(domain.AuthAccountNotFound)
	case 1:
		method := methods[0]
		return &method, nil
	default:
		return nil, domain.NewAuthError(domain.AuthMultipleAccounts)
	}
}
