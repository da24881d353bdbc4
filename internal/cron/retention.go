package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

const (
	defaultNotificationRetention = 30 * 24 * time.Hour
	defaultOutboxRetention       = 30 * 24 * time.Hour
	outboxMinAttempts            = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// retentionJob deletes rows older than keep in a single transaction.
type retentionJob struct {
	name  string
	logg  *logger.Logger
	db    txRunner
	keep  time.Duration
	now   func() time.Time
	purge func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.keep)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = j.purge(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, "rows_deleted": deleted}), "retention purge complete")
	return nil
}

func newRetentionJob(name string, logg *logger.Logger, db txRunner, keep, fallback time.Duration) (*retentionJob, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if db == nil {
		return nil, errors.New("db runner required")
	}
	if keep <= 0 {
		keep = fallback
	}
	return &retentionJob{name: name, logg: logg, db: db, keep: keep, now: time.Now}, nil
}

type notificationPurger interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository notificationPurger
	Retention  time.Duration
}

// NewNotificationCleanupJob drops read owner notifications past Retention.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, errors.New("notifications repository required")
	}
	job, err := newRetentionJob("notification-cleanup", params.Logger, params.DB, params.Retention, defaultNotificationRetention)
	if err != nil {
		return nil, err
	}
	job.purge = params.Repository.DeleteOlderThan
	return job, nil
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	Retention  time.Duration
	// MinAttempts also purges terminal rows that reached the attempt
	// ceiling; their copy lives on in the DLQ.
	MinAttempts int
}

// NewOutboxRetentionJob deletes published outbox rows past Retention.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	job, err := newRetentionJob("outbox-retention", params.Logger, params.DB, params.Retention, defaultOutboxRetention)
	if err != nil {
		return nil, err
	}
	minAttempts := positiveOr(params.MinAttempts, outboxMinAttempts)
	job.purge = func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
		return params.Repository.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
	}
	return job, nil
}
