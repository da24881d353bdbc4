package cron

import (
	"context"
	"time"
)

// Job is one sweep the cron worker runs. Name doubles as the lease name and
// the metrics label, so it must be stable across deploys.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule pairs a job with the minimum gap between two runs across all
// cron worker instances.
type Schedule struct {
	Job   Job
	Every time.Duration
}

type Registry struct {
	schedules []Schedule
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Every registers job to run at most once per interval. Nil jobs and
// non-positive intervals are ignored.
func (r *Registry) Every(interval time.Duration, job Job) *Registry {
	if job == nil || interval <= 0 {
		return r
	}
	r.schedules = append(r.schedules, Schedule{Job: job, Every: interval})
	return r
}

// Schedules returns a copy in registration order.
func (r *Registry) Schedules() []Schedule {
	return append([]Schedule(nil), r.schedules...)
}
