package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/infra/config"
)

// Consumer runs one Sarama consumer group over a fixed topic set.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
	done    chan struct{}
}

// NewConsumer initializes the consumer group session against the brokers.
func NewConsumer(cfg config.KafkaSettings, topics []string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	groupID := cfg.ConsumerGroup
	if groupID == "" {
		groupID = "avishan-challenge-workers"
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go c.handleErrors()

	logger.Info("Kafka consumer group initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", groupID),
		zap.Strings("topics", topics),
	)

	return c, nil
}

// NewChallengeConsumerGroup builds the worker end of deferred challenge
// dispatch: a consumer group on the challenge topic feeding the sender.
func NewChallengeConsumerGroup(cfg config.KafkaSettings, sender port.CodeSender, logger *zap.Logger) (*Consumer, error) {
	handler := NewChallengeConsumer(sender, logger)
	topic := topicName(cfg.TopicPrefix, challengeTopic)
	return NewConsumer(cfg, []string{topic}, handler, logger)
}

// Run consumes until the context is canceled. Consume returns whenever the
// group rebalances, so it loops.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			c.logger.Error("Kafka consume session ended", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) handleErrors() {
	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			if err != nil {
				c.logger.Error("Kafka consumer error", zap.Error(err))
			}
		case <-c.done:
			return
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	c.logger.Info("Closing Kafka consumer group")
	close(c.done)

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}
