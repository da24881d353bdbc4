package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
)

func TestDrainPublishesOtherCafesAfterFailure(t *testing.T) {
	cafeA, cafeB := uuid.New(), uuid.New()
	first := orderEvent(t, cafeA, 0)
	second := orderEvent(t, cafeB, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	topic := &fakeTopic{errs: []error{errors.New("transient")}}

	svc := newTestService(t, repo, topic, envelopeRegistry{}, &fakeDLQRepo{}, nil)
	stats, err := svc.drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Equal(t, 1, stats.retried)
	assert.Equal(t, 1, stats.published)
	assert.Equal(t, []string{cafeA.String()}, topic.resumed)
}

func TestDrainDefersSameCafeAfterFailure(t *testing.T) {
	cafeID := uuid.New()
	placed := orderEvent(t, cafeID, 0)
	accepted := orderEvent(t, cafeID, 0)
	accepted.EventType = enums.EventOrderItemsAdded
	other := orderEvent(t, uuid.New(), 0)
	repo := &fakeRepo{events: []models.OutboxEvent{placed, accepted, other}}
	topic := &fakeTopic{errs: []error{errors.New("unavailable")}}

	svc := newTestService(t, repo, topic, envelopeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 3, MaxAttempts: 5})
	stats, err := svc.drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{placed.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{other.ID}, repo.published)
	assert.Equal(t, 1, stats.deferred)
	require.Len(t, topic.sent, 2, "deferred row must not reach pubsub")
	assert.Equal(t, other.ID.String(), topic.sent[1].Attributes["event_id"])
}

func TestSendKeysMessagesByCafe(t *testing.T) {
	cafeID := uuid.New()
	event := orderEvent(t, cafeID, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	topic := &fakeTopic{}

	svc := newTestService(t, repo, topic, envelopeRegistry{}, &fakeDLQRepo{}, nil)
	_, err := svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, topic.sent, 1)
	msg := topic.sent[0]
	assert.Equal(t, cafeID.String(), msg.OrderingKey)
	assert.Equal(t, cafeID.String(), msg.Attributes["cafe_id"])
	assert.Equal(t, string(enums.EventOrderPlaced), msg.Attributes["event_type"])
	assert.Equal(t, event.ID.String(), msg.Attributes["event_id"])
	assert.JSONEq(t, string(event.Payload), string(msg.Data))
}

func TestOrderingKeyFallsBackToAggregate(t *testing.T) {
	event := models.OutboxEvent{AggregateID: uuid.New()}
	assert.Equal(t, event.AggregateID.String(), orderingKey(event, outbox.PayloadEnvelope{}))
}

func TestDrainDeadLettersUnresolvableEvent(t *testing.T) {
	event := orderEvent(t, uuid.New(), 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	resolver := failingRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}

	svc := newTestService(t, repo, &fakeTopic{}, resolver, dlq, nil)
	stats, err := svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Equal(t, 1, stats.deadLettered)
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	cafeID := uuid.New()
	exhausted := orderEvent(t, cafeID, 1)
	next := orderEvent(t, cafeID, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{exhausted, next}}
	dlq := &fakeDLQRepo{}
	topic := &fakeTopic{errs: []error{errors.New("transient")}}

	svc := newTestService(t, repo, topic, envelopeRegistry{}, dlq, &config.OutboxConfig{BatchSize: 2, MaxAttempts: 2})
	_, err := svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	// a dead-lettered row does not hold the cafe's ordering key
	assert.Equal(t, []uuid.UUID{next.ID}, repo.published)
}

func TestDrainTreatsMissingPublisherAsTerminal(t *testing.T) {
	event := orderEvent(t, uuid.New(), 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}

	svc := newTestService(t, repo, nil, envelopeRegistry{}, dlq, nil)
	_, err := svc.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.EqualError(t, err, "config is required")
}

func newTestService(t *testing.T, repo outboxRepository, topic *fakeTopic, resolver registryResolver, dlq dlqRepository, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{
		Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5},
	}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:         fakeDB{},
		PubSub:     fakePubSubClient{},
		Repository: repo,
		Registry:   resolver,
		DLQ:        dlq,
		Topics: func(string) topicPublisher {
			if topic == nil {
				return nil
			}
			return topic
		},
	})
	require.NoError(t, err)
	return svc
}

func orderEvent(t *testing.T, cafeID uuid.UUID, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now(),
		Actor:      &outbox.ActorRef{CafeID: cafeID, Role: outbox.ActorCustomer},
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now(),
	}
}

// envelopeRegistry resolves every row onto the orders topic using the
// envelope stored in the row itself.
type envelopeRegistry struct{}

func (envelopeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, registry.NewNonRetryableError(err)
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "orders-topic", AggregateType: event.AggregateType},
		Envelope:   env,
	}, nil
}

type failingRegistry struct{ err error }

func (f failingRegistry) Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error) {
	return nil, f.err
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeTopic struct {
	errs    []error
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakeTopic) Send(_ context.Context, msg *gcppubsub.Message) error {
	f.sent = append(f.sent, msg)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeTopic) Resume(key string) {
	f.resumed = append(f.resumed, key)
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }
func (fakePubSubClient) OrdersPublisher() *gcppubsub.Publisher { return nil }
func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

func TestIdleBackoffGrowsToCap(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, nil, envelopeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{PollIntervalMS: 4000})
	backoff := svc.idleBackoff()

	var waits []time.Duration
	for range 4 {
		wait, stop := backoff.Next()
		require.False(t, stop)
		waits = append(waits, wait)
	}
	assert.InDelta(t, float64(4*time.Second), float64(waits[0]), float64(jitterWindow))
	assert.InDelta(t, float64(8*time.Second), float64(waits[1]), float64(jitterWindow))
	for _, wait := range waits[2:] {
		assert.LessOrEqual(t, wait, maxIdleBackoff+jitterWindow)
	}
}
