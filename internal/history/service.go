// Package history serves the read-only archive of finalized orders, both as
// cursor pages and as a live, newest-first subscription.
package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
	"github.com/angelmondragon/tablesync-backend/pkg/pagination"
)

const defaultWindow = 200

type subscriber interface {
	Subscribe(ctx context.Context, filter changestream.Filter) (changestream.Subscription, error)
}

type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Subscribe(ctx context.Context, cafeID uuid.UUID) (*Subscription, error)
}

type ListParams struct {
	CafeID uuid.UUID
	Limit  int
	Cursor string
}

type ListResult struct {
	Items  []models.OrderHistoryEntry `json:"items"`
	Cursor string                     `json:"cursor"`
}

type ServiceParams struct {
	Repo    Repository
	Stream  subscriber
	Metrics *metrics.FeedMetrics
	Logger  *logger.Logger
	Window  int
}

type service struct {
	repo    Repository
	stream  subscriber
	metrics *metrics.FeedMetrics
	logg    *logger.Logger
	window  int
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("history repository required")
	}
	if params.Stream == nil {
		return nil, fmt.Errorf("change stream required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &service{
		repo:    params.Repo,
		stream:  params.Stream,
		metrics: params.Metrics,
		logg:    params.Logger,
		window:  window,
	}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.CafeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	query := listParams{CafeID: params.CafeID, Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}
	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// Subscribe joins the history topic, loads the most recent window and then
// keeps it current until ctx is cancelled or the subscription is closed.
func (s *service) Subscribe(ctx context.Context, cafeID uuid.UUID) (*Subscription, error) {
	if cafeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	source, err := s.stream.Subscribe(ctx, changestream.Filter{Topic: changestream.TopicHistory, CafeID: cafeID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to history changes")
	}
	entries, err := s.repo.Recent(ctx, cafeID, s.window)
	if err != nil {
		_ = source.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	Sort(entries)

	sub := newSubscription(cafeID, source, s.window, s.logg)
	sub.onClose = func() {
		s.metrics.SubscriptionClosed(string(changestream.TopicHistory))
	}
	s.metrics.SubscriptionOpened(string(changestream.TopicHistory))

	go sub.run(ctx, entries)
	return sub, nil
}
