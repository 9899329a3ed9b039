package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/logger"
)

const challengeTopic = "auth.challenge.requested"

// challengeEnvelope is the wire format of a deferred code delivery request.
type challengeEnvelope struct {
	EventID        string    `json:"event_id"`
	IdentifierKind string    `json:"identifier_kind"`
	IdentifierKey  string    `json:"identifier_key"`
	Code           string    `json:"code"`
	RequestedAt    time.Time `json:"requested_at"`
}

// ChallengeDispatcher publishes one-time code deliveries to Kafka so the
// login request returns without waiting on the SMS/email provider.
type ChallengeDispatcher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewChallengeDispatcher constructs a Kafka-backed challenge dispatcher.
func NewChallengeDispatcher(producer *Producer, log *zap.Logger) *ChallengeDispatcher {
	return &ChallengeDispatcher{producer: producer, logger: log}
}

// DispatchCode enqueues the code delivery. The message is keyed by the
// identifier so deliveries to one destination stay ordered.
func (d *ChallengeDispatcher) DispatchCode(ctx context.Context, kind domain.IdentifierKind, key, code string) error {
	envelope := challengeEnvelope{
		EventID:        uuid.NewString(),
		IdentifierKind: string(kind),
		IdentifierKey:  key,
		Code:           code,
		RequestedAt:    time.Now().UTC(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal challenge envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: d.producer.TopicName(challengeTopic),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case d.producer.Producer().Input() <- message:
		d.logger.Debug("challenge dispatch enqueued",
			zap.String("kind", string(kind)),
			zap.String("destination", logger.MaskIdentifier(key)),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.ChallengeDispatcher = (*ChallengeDispatcher)(nil)

// ChallengeConsumer is the worker end of deferred dispatch. It decodes
// challenge envelopes and hands them to the configured code sender.
type ChallengeConsumer struct {
	sender port.CodeSender
	logger *zap.Logger
}

// NewChallengeConsumer constructs a consumer that delivers dequeued codes.
func NewChallengeConsumer(sender port.CodeSender, log *zap.Logger) *ChallengeConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengeConsumer{sender: sender, logger: log}
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *ChallengeConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope challengeEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode challenge envelope: %w", err)
	}

	kind, ok := domain.ParseIdentifierKind(envelope.IdentifierKind)
	if !ok {
		return fmt.Errorf("challenge envelope %s: unknown identifier kind %q", envelope.EventID, envelope.IdentifierKind)
	}

	if err := c.sender.SendCode(ctx, kind, envelope.IdentifierKey, envelope.Code); err != nil {
		return fmt.Errorf("deliver code for %s: %w", logger.MaskIdentifier(envelope.IdentifierKey), err)
	}

	c.logger.Info("challenge delivered",
		zap.String("event_id", envelope.EventID),
		zap.String("kind", envelope.IdentifierKind),
		zap.String("destination", logger.MaskIdentifier(envelope.IdentifierKey)),
	)
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *ChallengeConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *ChallengeConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim drains one partition claim. A failed delivery is logged and
// its message still marked, so a dead destination cannot wedge the partition.
func (c *ChallengeConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Error("challenge delivery failed",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*ChallengeConsumer)(nil)

// SyncDispatcher delivers codes inline through the sender. Used when no
// broker is configured or async dispatch is disabled.
type SyncDispatcher struct {
	sender port.CodeSender
}

// NewSyncDispatcher constructs an inline dispatcher.
func NewSyncDispatcher(sender port.CodeSender) *SyncDispatcher {
	return &SyncDispatcher{sender: sender}
}

func (d *SyncDispatcher) DispatchCode(ctx context.Context, kind domain.IdentifierKind, key, code string) error {
	return d.sender.SendCode(ctx, kind, key, code)
}

var _ port.ChallengeDispatcher = (*SyncDispatcher)(nil)
