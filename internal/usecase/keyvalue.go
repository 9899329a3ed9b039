package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/logger"
	"github.com/Afshari9978/avishan/internal/infra/security"
)

// KeyValueService implements password login against stored Argon2id hashes.
type KeyValueService struct {
	repo    port.AuthRepository
	session *SessionService
	logger  *zap.Logger
}

// NewKeyValueService constructs the password strategy service.
func NewKeyValueService(repo port.AuthRepository, session *SessionService, log *zap.Logger) *KeyValueService {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyValueService{repo: repo, session: session, logger: log}
}

// Login verifies the password for (identifier, group) and completes a fresh
// sign-in, returning the minted token.
func (s *KeyValueService) Login(ctx context.Context, idKind domain.IdentifierKind, key, password, groupTitle string) (*Account, string, error) {
	method, err := resolveMethod(ctx, s.repo, domain.MethodKeyValue, idKind, key, groupTitle)
	if err != nil {
		return nil, "", err
	}

	if method.HashedPassword == nil {
		return nil, "", domain.NewAuthError(domain.AuthIncorrectPassword)
	}
	match, err := security.VerifyPassword(password, *method.HashedPassword)
	if err != nil {
		return nil, "", err
	}
	if !match {
		s.logger.Info("password login rejected",
			zap.String("identifier", logger.MaskIdentifier(key)),
		)
		return nil, "", domain.NewAuthError(domain.AuthIncorrectPassword)
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

// ChangePassword replaces the stored hash after verifying the current one.
func (s *KeyValueService) ChangePassword(ctx context.Context, method *domain.AuthMethod, current, next string) error {
	if method.HashedPassword != nil {
		match, err := security.VerifyPassword(current, *method.HashedPassword)
		if err != nil {
			return err
		}
		if !match {
			return domain.NewAuthError(domain.AuthIncorrectPassword)
		}
	}

	if next == "" {
		return domain.NewValidationError("new_password", domain.MsgFieldNotValid)
	}

	hashed, err := security.HashPassword(next)
	if err != nil {
		return err
	}
	method.HashedPassword = &hashed

	return s.repo.UpdateMethod(ctx, method)
}
