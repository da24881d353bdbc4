package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	maxIdleBackoff     = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Registry   registryResolver
	DLQ        dlqRepository
	// Topics replaces the Pub/Sub publisher lookup; tests use it.
	Topics topicPublishers
}

// Service moves committed outbox rows onto the orders topic. Each batch is
// claimed and settled in one transaction.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	registry    registryResolver
	dlq         dlqRepository
	topics      topicPublishers
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
		{"dlq repository", params.DLQ == nil},
	} {
		if dep.missing {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	outboxCfg := params.Config.Outbox
	topics := params.Topics
	if topics == nil {
		topics = newPubSubTopics(params.PubSub, params.Config.PubSub.OrdersTopic)
	}

	poll := defaultPoll
	if outboxCfg.PollIntervalMS > 0 {
		poll = time.Duration(outboxCfg.PollIntervalMS) * time.Millisecond
	}
	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		repo:        params.Repository,
		registry:    params.Registry,
		dlq:         params.DLQ,
		topics:      topics,
		batchSize:   cmpOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts: cmpOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		poll:        poll,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func cmpOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// idleBackoff waits one jittered poll interval after a quiet round and
// doubles up to maxIdleBackoff while drains keep failing.
func (s *Service) idleBackoff() retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxIdleBackoff, retry.NewExponential(s.poll)))
}

// Run drains until ctx ends. A full batch is followed immediately by the
// next one.
func (s *Service) Run(ctx context.Context) error {
	if err := errors.Join(wrapPing("database", s.db.Ping(ctx)), wrapPing("pubsub", s.pubsub.Ping(ctx))); err != nil {
		s.logg.Error(ctx, "outbox publisher dependencies unavailable", err)
		return err
	}

	backoff := s.idleBackoff()
	for {
		stats, err := s.drain(ctx)
		if ctx.Err() != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return ctx.Err()
		}
		if err != nil {
			s.logg.Error(ctx, "outbox drain failed", err)
		} else {
			backoff = s.idleBackoff()
			if stats.claimed >= s.batchSize {
				continue
			}
		}

		wait, _ := backoff.Next()
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func wrapPing(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s ping failed: %w", name, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
