package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer runner
}

type dependency struct {
	name string
	p    pinger
}

// Service runs the order alert consumer once every dependency answers.
type Service struct {
	logg     *logger.Logger
	deps     []dependency
	consumer runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	deps := []dependency{
		{name: "database", p: params.DB},
		{name: "redis", p: params.Redis},
		{name: "pubsub", p: params.PubSub},
	}
	for _, dep := range deps {
		if dep.p == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}
	return &Service{logg: params.Logger, deps: deps, consumer: params.NotificationConsumer}, nil
}

func (s *Service) ready(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range s.deps {
		g.Go(func() error {
			if err := dep.p.Ping(gctx); err != nil {
				s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "dependency ping failed", err)
				return fmt.Errorf("%s ping failed: %w", dep.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run blocks until ctx is cancelled or the consumer stops.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	s.logg.Info(ctx, "worker dependencies ready")

	err := s.consumer.Run(ctx)
	switch {
	case ctx.Err() != nil:
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err != nil:
		s.logg.Error(ctx, "order alert consumer stopped", err)
		return err
	}
	return errors.New("order alert consumer returned without error")
}
