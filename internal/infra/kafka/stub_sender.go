package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/logger"
)

// StubSender logs codes instead of sending them through a provider. Useful
// for development environments.
type StubSender struct {
	logger *zap.Logger
}

// NewStubSender constructs a development-friendly code sender.
func NewStubSender(log *zap.Logger) *StubSender {
	return &StubSender{logger: log}
}

func (s *StubSender) SendCode(_ context.Context, kind domain.IdentifierKind, key, code string) error {
	s.logger.Info("Stub code delivery",
		zap.String("kind", string(kind)),
		zap.String("destination", logger.MaskIdentifier(key)),
		zap.String("code", code),
	)
	return nil
}

var _ port.CodeSender = (*StubSender)(nil)
