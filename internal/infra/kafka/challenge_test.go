package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
)

type sentCode struct {
	kind domain.IdentifierKind
	key  string
	code string
}

type fakeSender struct {
	sent    []sentCode
	sendErr error
}

func (s *fakeSender) SendCode(_ context.Context, kind domain.IdentifierKind, key, code string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentCode{kind: kind, key: key, code: code})
	return nil
}

func challengeMessage(t *testing.T, kind, key, code string) *sarama.ConsumerMessage {
	t.Helper()
	bytes, err := json.Marshal(challengeEnvelope{
		EventID:        "evt-1",
		IdentifierKind: kind,
		IdentifierKey:  key,
		Code:           code,
		RequestedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "avishan.auth.challenge.requested", Value: bytes}
}

func TestHandleMessageDeliversCode(t *testing.T) {
	sender := &fakeSender{}
	consumer := NewChallengeConsumer(sender, nil)

	msg := challengeMessage(t, "phone", "+15550001111", "12345")
	require.NoError(t, consumer.HandleMessage(context.Background(), msg))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.IdentifierPhone, sender.sent[0].kind)
	assert.Equal(t, "+15550001111", sender.sent[0].key)
	assert.Equal(t, "12345", sender.sent[0].code)
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
	sender := &fakeSender{}
	consumer := NewChallengeConsumer(sender, nil)

	t.Run("broken json", func(t *testing.T) {
		err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
		require.Error(t, err)
	})

	t.Run("unknown identifier kind", func(t *testing.T) {
		err := consumer.HandleMessage(context.Background(), challengeMessage(t, "carrier-pigeon", "x", "1"))
		require.Error(t, err)
	})

	assert.Empty(t, sender.sent)
}

// fakeGroupSession implements the sarama session surface ConsumeClaim touches.
type fakeGroupSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeGroupSession) Claims() map[string][]int32 { return nil }
func (s *fakeGroupSession) MemberID() string           { return "worker-1" }
func (s *fakeGroupSession) GenerationID() int32        { return 1 }
func (s *fakeGroupSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeGroupSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeGroupSession) Commit()                    {}
func (s *fakeGroupSession) Context() context.Context   { return s.ctx }

func (s *fakeGroupSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                                 { return "avishan.auth.challenge.requested" }
func (c *fakeClaim) Partition() int32                              { return 0 }
func (c *fakeClaim) InitialOffset() int64                          { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64                    { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage      { return c.messages }

func TestConsumeClaimDrainsAndMarks(t *testing.T) {
	sender := &fakeSender{}
	consumer := NewChallengeConsumer(sender, nil)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- challengeMessage(t, "phone", "+15550001111", "11111")
	claim.messages <- challengeMessage(t, "email", "a@example.com", "22222")
	close(claim.messages)

	session := &fakeGroupSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, domain.IdentifierEmail, sender.sent[1].kind)
	assert.Len(t, session.marked, 2)
}

func TestConsumeClaimMarksFailedDeliveries(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("provider down")}
	consumer := NewChallengeConsumer(sender, nil)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- challengeMessage(t, "phone", "+15550001111", "11111")
	close(claim.messages)

	session := &fakeGroupSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	// The failed message is still marked, so the partition keeps moving.
	assert.Len(t, session.marked, 1)
}

func TestConsumeClaimStopsOnContextCancel(t *testing.T) {
	sender := &fakeSender{}
	consumer := NewChallengeConsumer(sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	session := &fakeGroupSession{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- consumer.ConsumeClaim(session, claim) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop on context cancel")
	}
}
