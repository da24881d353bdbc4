package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

const (
	defaultPendingTTL = 24 * time.Hour
	staleOrderBatch   = 100
	trialExpiryBatch  = 200
)

// sweepJob handles one bounded batch per run. Rows past the batch wait for
// the next run.
type sweepJob struct {
	name    string
	counted string
	logg    *logger.Logger
	now     func() time.Time
	sweep   func(ctx context.Context, now time.Time) (int, error)
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	affected, err := j.sweep(ctx, now)
	logCtx := j.logg.WithFields(ctx, map[string]any{j.counted: affected, "swept_at": now})
	if err != nil {
		// CancelStale reports per-order failures after finishing the rest.
		j.logg.Error(logCtx, "sweep finished with errors", err)
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if affected == 0 {
		j.logg.Debug(logCtx, "sweep found nothing to do")
		return nil
	}
	j.logg.Info(logCtx, "sweep complete")
	return nil
}

type staleOrderCanceller interface {
	CancelStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type OrderTTLJobParams struct {
	Logger *logger.Logger
	Orders staleOrderCanceller
	// PendingTTL is how long an order may sit in pending before the sweep
	// cancels it.
	PendingTTL time.Duration
	BatchSize  int
}

// NewOrderTTLJob cancels pending orders nobody accepted within PendingTTL.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := positiveOr(params.BatchSize, staleOrderBatch)
	return &sweepJob{
		name:    "pending-order-ttl",
		counted: "cancelled",
		logg:    params.Logger,
		now:     time.Now,
		sweep: func(ctx context.Context, now time.Time) (int, error) {
			return params.Orders.CancelStale(ctx, now.Add(-ttl), batch)
		},
	}, nil
}

type trialExpirer interface {
	ExpireTrials(ctx context.Context, now time.Time, limit int) (int, error)
}

type TrialExpiryJobParams struct {
	Logger    *logger.Logger
	Cafes     trialExpirer
	BatchSize int
}

// NewTrialExpiryJob closes cafes whose trial lapsed.
func NewTrialExpiryJob(params TrialExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Cafes == nil {
		return nil, errors.New("cafes service required")
	}
	batch := positiveOr(params.BatchSize, trialExpiryBatch)
	return &sweepJob{
		name:    "trial-expiry",
		counted: "expired",
		logg:    params.Logger,
		now:     time.Now,
		sweep: func(ctx context.Context, now time.Time) (int, error) {
			return params.Cafes.ExpireTrials(ctx, now, batch)
		},
	}, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
