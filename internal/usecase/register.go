package usecase

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/logger"
	"github.com/Afshari9978/avishan/internal/infra/security"
	"github.com/Afshari9978/avishan/internal/repository"
)

// RegisterParams carries everything needed to open an account under one
// strategy in one group.
type RegisterParams struct {
	Strategy       domain.MethodKind
	IdentifierKind domain.IdentifierKind
	Key            string
	Password       string // key_value only
	GroupTitle     string
	Language       domain.Language
}

// RegisterService opens accounts: user, membership, identifier, and method in
// a single unit of work.
type RegisterService struct {
	repo   port.AuthRepository
	logger *zap.Logger
}

// NewRegisterService constructs the registration service.
func NewRegisterService(repo port.AuthRepository, log *zap.Logger) *RegisterService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegisterService{repo: repo, logger: log}
}

// Register creates the account, failing with DUPLICATE_AUTHENTICATION_IDENTIFIER
// when a method already exists for the same (identifier, strategy, group).
func (s *RegisterService) Register(ctx context.Context, params RegisterParams) (*Account, error) {
	group, err := s.repo.GroupByTitle(ctx, params.GroupTitle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
		}
		return nil, err
	}

	if params.Key == "" {
		return nil, domain.NewValidationError("key", domain.MsgFieldNotValid)
	}

	identifier, err := s.repo.IdentifierByKey(ctx, params.IdentifierKind, params.Key)
	switch {
	case err == nil:
		if _, err := s.repo.MethodByIdentifierAndGroup(ctx, params.Strategy, identifier.ID, group.ID); err == nil {
			return nil, domain.NewAuthError(domain.AuthDuplicateIdentifier)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}

	method := domain.AuthMethod{
		Kind:           params.Strategy,
		IdentifierKind: params.IdentifierKind,
	}

	if params.Strategy == domain.MethodKeyValue {
		if params.Password == "" {
			return nil, domain.NewValidationError("password", domain.MsgFieldNotValid)
		}
		hashed, err := security.HashPassword(params.Password)
		if err != nil {
			return nil, err
		}
		method.HashedPassword = &hashed
	}

	created, membership, user, err := s.repo.RegisterAccount(ctx, port.Registration{
		Group:      group,
		Language:   params.Language,
		Identifier: &domain.Identifier{Kind: params.IdentifierKind, Key: params.Key},
		Method:     method,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered",
		zap.String("identifier", logger.MaskIdentifier(params.Key)),
		zap.String("strategy", string(params.Strategy)),
		zap.String("group", group.Title),
	)

	return &Account{Method: created, Membership: membership, User: user, Group: group}, nil
}
