package cron

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
)

const defaultTick = time.Minute

// Leaser hands out named leases shared by every cron worker instance.
// pkg/redis.Client implements it.
type Leaser interface {
	AcquireLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, token string) (bool, error)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Leases   Leaser
	Metrics  *metrics.CronJobMetrics
	// Tick is how often due jobs are checked. A job runs at most once per
	// its Every, rounded up to the next tick.
	Tick     time.Duration
	Instance string
}

// Service runs registered jobs on their own cadence. Before a run the job's
// lease is taken for its full interval and kept after a success, so however
// many instances tick, each job runs once per interval. A failed run hands
// the lease back and the next tick retries.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	leases   Leaser
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	instance string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Leases == nil {
		return nil, errors.New("lease store required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	instance := params.Instance
	if instance == "" {
		instance = "cron"
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		leases:   params.Leases,
		metrics:  params.Metrics,
		tick:     tick,
		instance: instance,
	}, nil
}

// Run checks for due jobs immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.runDue(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runDue(ctx context.Context) {
	for _, schedule := range s.registry.Schedules() {
		if ctx.Err() != nil {
			return
		}
		s.runIfDue(ctx, schedule)
	}
}

func (s *Service) runIfDue(ctx context.Context, schedule Schedule) {
	name := schedule.Job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job", "every": schedule.Every.String()})

	leaseName := "cron:" + name
	token := s.instance + ":" + uuid.NewString()
	acquired, err := s.leases.AcquireLease(jobCtx, leaseName, token, schedule.Every)
	if err != nil {
		s.logg.Error(jobCtx, "cron lease unavailable", err)
		return
	}
	if !acquired {
		s.logg.Debug(jobCtx, "job not due")
		return
	}

	start := time.Now()
	err = schedule.Job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveRun(name, duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())

	if err == nil {
		s.logg.Info(jobCtx, "job completed")
		return
	}

	s.logg.Error(jobCtx, "job failed", err)
	if _, relErr := s.leases.ReleaseLease(context.WithoutCancel(jobCtx), leaseName, token); relErr != nil {
		s.logg.Error(jobCtx, "failed to release cron lease", relErr)
	}
}
