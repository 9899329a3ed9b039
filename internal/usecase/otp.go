package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/config"
	"github.com/Afshari9978/avishan/internal/infra/logger"
	"github.com/Afshari9978/avishan/internal/infra/security"
)

// OtpService implements the one-time-code strategy: challenge issuance with a
// per-channel gap, bounded verify attempts, and expiry.
type OtpService struct {
	repo       port.AuthRepository
	session    *SessionService
	dispatcher port.ChallengeDispatcher
	cfg        config.OtpSettings
	logger     *zap.Logger
	now        func() time.Time
}

// NewOtpService constructs the OTP strategy service.
func NewOtpService(repo port.AuthRepository, session *SessionService, dispatcher port.ChallengeDispatcher, cfg config.OtpSettings, log *zap.Logger) *OtpService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OtpService{
		repo:       repo,
		session:    session,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic testing.
func (s *OtpService) WithClock(clock func() time.Time) *OtpService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// StartChallenge generates and dispatches a fresh code. Unknown identifiers
// targeting a base group auto-register a new account first. A second call
// inside gap_seconds fails with 408 and never overwrites the stored code.
func (s *OtpService) StartChallenge(ctx context.Context, idKind domain.IdentifierKind, key, groupTitle string) error {
	channel := s.cfg.Channel(string(idKind))

	method, err := resolveMethod(ctx, s.repo, domain.MethodOtp, idKind, key, groupTitle)
	if err != nil {
		var authErr *domain.AuthError
		if !errors.As(err, &authErr) || authErr.Kind != domain.AuthAccountNotFound {
			return err
		}
		method, err = s.autoRegister(ctx, idKind, key, groupTitle)
		if err != nil {
			return err
		}
	}

	now := s.now()
	if method.DateSent != nil && now.Sub(*method.DateSent) < time.Duration(channel.GapSeconds)*time.Second {
		return domain.NewMessageError(domain.MsgChallengeTooSoon, http.StatusRequestTimeout)
	}

	code, err := security.GenerateNumericCode(channel.CodeLength)
	if err != nil {
		return err
	}

	// Dispatch before promoting date_sent; a provider failure must leave the
	// method row untouched.
	if err := s.dispatcher.DispatchCode(ctx, idKind, key, code); err != nil {
		s.logger.Error("challenge dispatch failed",
			zap.String("identifier", logger.MaskIdentifier(key)),
			zap.Error(err),
		)
		return domain.NewMessageError(domain.MsgProviderUnavailable, http.StatusServiceUnavailable)
	}

	method.Code = &code
	method.DateSent = &now
	method.TriedCodes = ""

	return s.repo.UpdateMethod(ctx, method)
}

// Verify consumes the pending code. Success clears the challenge, marks the
// identifier verified, and completes a sign-in; the boolean reports whether
// this was the account's first login.
func (s *OtpService) Verify(ctx context.Context, idKind domain.IdentifierKind, key, code, groupTitle string) (*Account, string, bool, error) {
	channel := s.cfg.Channel(string(idKind))

	method, err := resolveMethod(ctx, s.repo, domain.MethodOtp, idKind, key, groupTitle)
	if err != nil {
		return nil, "", false, err
	}

	active, ok := method.ActiveCode()
	if !ok {
		return nil, "", false, domain.NewMessageError(domain.MsgNoActiveCode, http.StatusBadRequest)
	}

	now := s.now()
	if now.Sub(*method.DateSent) > time.Duration(channel.ValidSeconds)*time.Second {
		method.ClearChallenge()
		if err := s.repo.UpdateMethod(ctx, method); err != nil {
			return nil, "", false, err
		}
		return nil, "", false, domain.NewAuthError(domain.AuthSMSCodeExpired)
	}

	if code != active {
		tries := method.RecordTriedCode(code)
		if tries >= channel.TriesCount {
			method.ClearChallenge()
		}
		if err := s.repo.UpdateMethod(ctx, method); err != nil {
			return nil, "", false, err
		}
		return nil, "", false, domain.NewAuthError(domain.AuthIncorrectSMSCode)
	}

	firstLogin := method.LastLogin == nil
	method.ClearChallenge()

	if method.IdentifierID != nil {
		if err := s.repo.MarkIdentifierVerified(ctx, *method.IdentifierID, now); err != nil {
			s.logger.Warn("mark identifier verified failed",
				zap.Int64("identifier_id", *method.IdentifierID),
				zap.Error(err),
			)
		}
	}

	account, err := s.session.loadAccount(ctx, method)
	if err != nil {
		return nil, "", false, err
	}

	token, err := s.session.CompleteLogin(ctx, account)
	if err != nil {
		return nil, "", false, err
	}

	return account, token, firstLogin, nil
}

// autoRegister creates an account with an empty OTP method when the targeted
// group self-registers unknown identifiers.
func (s *OtpService) autoRegister(ctx context.Context, idKind domain.IdentifierKind, key, groupTitle string) (*domain.AuthMethod, error) {
	if groupTitle == "" {
		return nil, domain.NewAuthError(domain.AuthAccountNotFound)
	}

	group, err := s.repo.GroupByTitle(ctx, groupTitle)
	if err != nil {
		return nil, domain.NewAuthError(domain.AuthAccountNotFound)
	}
	if !group.IsBaseGroup {
		return nil, domain.NewAuthError(domain.AuthAccountNotFound)
	}

	method, _, _, err := s.repo.RegisterAccount(ctx, port.Registration{
		Group:      group,
		Language:   domain.LanguageEN,
		Identifier: &domain.Identifier{Kind: idKind, Key: key},
		Method: domain.AuthMethod{
			Kind:           domain.MethodOtp,
			IdentifierKind: idKind,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("auto-registered account for challenge",
		zap.String("identifier", logger.MaskIdentifier(key)),
		zap.String("group", group.Title),
	)

	return method, nil
}
