package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/security"
	"github.com/Afshari9978/avishan/internal/repository"
)

// VisitorService implements anonymous accounts recognized by an opaque
// URL-safe key instead of an identifier.
type VisitorService struct {
	repo        port.AuthRepository
	session     *SessionService
	keyLength   int
	generateKey func(length int) (string, error)
	logger      *zap.Logger
}

// NewVisitorService constructs the visitor strategy service.
func NewVisitorService(repo port.AuthRepository, session *SessionService, keyLength int, log *zap.Logger) *VisitorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VisitorService{
		repo:        repo,
		session:     session,
		keyLength:   keyLength,
		generateKey: security.GenerateSecureKey,
		logger:      log,
	}
}

const visitorKeyAttempts = 5

// freshKey draws candidate keys until one is unused by any existing method.
func (s *VisitorService) freshKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < visitorKeyAttempts; attempt++ {
		key, err := s.generateKey(s.keyLength)
		if err != nil {
			return "", err
		}
		_, err = s.repo.MethodByVisitorKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no unused visitor key after %d attempts", visitorKeyAttempts)
}

// Visit creates a brand-new anonymous account in the named base group, signs
// it in, and returns the visitor key alongside the minted token.
func (s *VisitorService) Visit(ctx context.Context, groupTitle string, language domain.Language) (*Account, string, string, error) {
	group, err := s.repo.GroupByTitle(ctx, groupTitle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", "", domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, "", "", err
	}
	if !group.IsBaseGroup {
		return nil, "", "", domain.NewAuthError(domain.AuthAccessDenied)
	}

	key, err := s.freshKey(ctx)
	if err != nil {
		return nil, "", "", err
	}

	method, membership, user, err := s.repo.RegisterAccount(ctx, port.Registration{
		Group:    group,
		Language: language,
		Method: domain.AuthMethod{
			Kind:       domain.MethodVisitorKey,
			VisitorKey: key,
		},
	})
	if err != nil {
		return nil, "", "", err
	}

	account := &Account{Method: method, Membership: membership, User: user, Group: group}
	token, err := s.session.CompleteLogin(ctx, account)
	if err != nil {
		return nil, "", "", err
	}

	s.logger.Info("visitor account created",
		zap.Int64("user_id", user.ID),
		zap.String("group", group.Title),
	)

	return account, key, token, nil
}

// Login signs a returning visitor in by their key.
func (s *VisitorService) Login(ctx context.Context, key string) (*Account, string, error) {
	method, err := s.repo.MethodByVisitorKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", domain.NewAuthError(domain.AuthAccountNotFound)
		}
		return nil, "", err
	}

	account, err := s.session.loadAccount(ctx, method)
	if err != nil {
		return nil, "", err
	}

	token, err := s.session.CompleteLogin(ctx, account)
	if err != nil {
		return nil, "", err
	}

	return account, token, nil
}
