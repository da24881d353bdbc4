package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
)

type liveLoader interface {
	GetLive(ctx context.Context, cafeID uuid.UUID) ([]models.Order, error)
}

type subscriber interface {
	Subscribe(ctx context.Context, filter changestream.Filter) (changestream.Subscription, error)
}

// Service opens feed subscriptions and tracks them by id so badge dismissals
// from a separate request reach the right snapshot.
type Service struct {
	loader  liveLoader
	stream  subscriber
	metrics *metrics.FeedMetrics
	logg    *logger.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewService(loader liveLoader, stream subscriber, feedMetrics *metrics.FeedMetrics, logg *logger.Logger) (*Service, error) {
	if loader == nil {
		return nil, fmt.Errorf("live order loader required")
	}
	if stream == nil {
		return nil, fmt.Errorf("change stream required")
	}
	return &Service{
		loader:  loader,
		stream:  stream,
		metrics: feedMetrics,
		logg:    logg,
		subs:    map[string]*Subscription{},
	}, nil
}

// Subscribe starts a feed for cafeID. The change stream is joined before the
// live set is read so no write falls between the two; the version check in
// Apply drops anything the read already covered. The subscription ends when
// ctx is cancelled or Close is called.
func (s *Service) Subscribe(ctx context.Context, cafeID uuid.UUID) (*Subscription, error) {
	if cafeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	source, err := s.stream.Subscribe(ctx, changestream.Filter{Topic: changestream.TopicOrders, CafeID: cafeID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to order changes")
	}
	live, err := s.loader.GetLive(ctx, cafeID)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		cafeID:  cafeID,
		source:  source,
		updates: make(chan Update),
		cmds:    make(chan dismissCmd),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logg:    s.logg,
		onFold: func(notice Notice) {
			s.metrics.IncNotice(string(notice.Kind))
		},
	}
	sub.onClose = func() {
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
		s.metrics.SubscriptionClosed(string(changestream.TopicOrders))
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	s.metrics.SubscriptionOpened(string(changestream.TopicOrders))

	go sub.run(ctx, Seed(NewSnapshot(), live))
	return sub, nil
}

// Dismiss clears a badge on a subscription owned by cafeID.
func (s *Service) Dismiss(ctx context.Context, cafeID uuid.UUID, subscriptionID string, orderID uuid.UUID, index int) error {
	s.mu.Lock()
	sub, ok := s.subs[subscriptionID]
	s.mu.Unlock()
	if !ok || sub.cafeID != cafeID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "feed subscription not found")
	}
	switch err := sub.Dismiss(ctx, orderID, index); err {
	case nil:
		return nil
	case ErrBadgeNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "order item not in feed")
	case ErrSubscriptionClosed:
		return pkgerrors.New(pkgerrors.CodeNotFound, "feed subscription not found")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "dismiss badge")
	}
}

// Active reports the number of open subscriptions.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
