package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

const (
	defaultMaxWriteAttempts = 3
	defaultRetryBackoff     = 25 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type changePublisher interface {
	Publish(ctx context.Context, change changestream.Change) error
}

// Service is the order aggregator and status machine.
type Service interface {
	PlaceOrder(ctx context.Context, cafeID uuid.UUID, client session.ClientContext, items types.LineItems) (*PlaceResult, error)
	Transition(ctx context.Context, cafeID, orderID uuid.UUID, target enums.OrderStatus) (*models.OrderHistoryEntry, error)
	GetLive(ctx context.Context, cafeID uuid.UUID) ([]models.Order, error)
	CancelStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PlaceResult reports the persisted order and whether this call created it.
type PlaceResult struct {
	OrderID    uuid.UUID       `json:"order_id"`
	Order      *models.Order   `json:"order"`
	Created    bool            `json:"created"`
	AddedItems types.LineItems `json:"added_items"`
}

type ServiceParams struct {
	Repo             Repository
	Cafes            CafeLookup
	Tx               txRunner
	Outbox           outbox.Emitter
	Changes          changePublisher
	Metrics          *metrics.OrderMetrics
	Logger           *logger.Logger
	MaxWriteAttempts int
	RetryBackoff     time.Duration
	Now              func() time.Time
}

type service struct {
	repo        Repository
	cafes       CafeLookup
	tx          txRunner
	outbox      outbox.Emitter
	changes     changePublisher
	metrics     *metrics.OrderMetrics
	logg        *logger.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Cafes == nil {
		return nil, fmt.Errorf("cafe lookup required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Changes == nil {
		return nil, fmt.Errorf("change stream required")
	}
	attempts := params.MaxWriteAttempts
	if attempts <= 0 {
		attempts = defaultMaxWriteAttempts
	}
	backoff := params.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:        params.Repo,
		cafes:       params.Cafes,
		tx:          params.Tx,
		outbox:      params.Outbox,
		changes:     params.Changes,
		metrics:     params.Metrics,
		logg:        params.Logger,
		maxAttempts: attempts,
		backoff:     backoff,
		now:         now,
	}, nil
}

// PlaceOrder merges items into the caller's pending order for the table, or
// opens one. Write conflicts are retried a bounded number of times.
func (s *service) PlaceOrder(ctx context.Context, cafeID uuid.UUID, client session.ClientContext, items types.LineItems) (*PlaceResult, error) {
	if cafeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	client = client.Normalized()
	if !client.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	normalized, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	result, err := s.upsertPendingOrder(ctx, cafeID, client, normalized)
	if err != nil {
		return nil, err
	}

	kind := changestream.KindModified
	if result.Created {
		kind = changestream.KindAdded
	}
	s.publish(ctx, kind, changestream.TopicOrders, cafeID, result.Order.ID, result.Order.Version, result.Order)
	return result, nil
}

func normalizeItems(items types.LineItems) (types.LineItems, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	out := make(types.LineItems, 0, len(items))
	for i, item := range items {
		item = item.Normalize()
		if item.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: name required", i))
		}
		if item.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: price must be non-negative", i))
		}
		out = append(out, item)
	}
	return out, nil
}

// Transition archives a pending order under a terminal status. Replaying a
// transition that already landed returns the archived entry unchanged.
func (s *service) Transition(ctx context.Context, cafeID, orderID uuid.UUID, target enums.OrderStatus) (*models.OrderHistoryEntry, error) {
	if !target.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target status must be completed or cancelled")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var (
		entry    *models.OrderHistoryEntry
		live     *models.Order
		archived bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindLive(ctx, cafeID, orderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			existing, err := repo.FindHistory(ctx, cafeID, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
			}
			if existing.Status != target {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order already %s", existing.Status))
			}
			entry = existing
			return nil
		}

		finalized := order.Finalize(target, s.now())
		if err := repo.UpsertHistory(ctx, &finalized); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive order")
		}
		if err := repo.DeleteLive(ctx, cafeID, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove live order")
		}
		if err := s.outbox.Emit(ctx, tx, finalizedEvent(order, finalized)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order finalized")
		}

		entry = &finalized
		live = order
		archived = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if archived {
		s.metrics.IncTransition(target.String())
		s.publish(ctx, changestream.KindRemoved, changestream.TopicOrders, cafeID, orderID, live.Version+1, nil)
		s.publish(ctx, changestream.KindAdded, changestream.TopicHistory, cafeID, orderID, 1, entry)
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"cafe_id":  cafeID.String(),
				"order_id": orderID.String(),
				"status":   target.String(),
			})
			s.logg.Info(logCtx, "order finalized")
		}
	}
	return entry, nil
}

func (s *service) GetLive(ctx context.Context, cafeID uuid.UUID) ([]models.Order, error) {
	orders, err := s.repo.ListLive(ctx, cafeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list live orders")
	}
	return orders, nil
}

// CancelStale cancels pending orders untouched since cutoff.
func (s *service) CancelStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale orders")
	}
	cancelled := 0
	var errs error
	for _, order := range stale {
		if _, err := s.Transition(ctx, order.CafeID, order.ID, enums.OrderStatusCancelled); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		cancelled++
	}
	return cancelled, errs
}

// publish fans a committed write out to live subscribers. The write already
// succeeded, so failures are logged rather than returned.
func (s *service) publish(ctx context.Context, kind changestream.Kind, topic changestream.Topic, cafeID, entityID uuid.UUID, version int64, entity any) {
	change, err := changestream.NewChange(kind, topic, cafeID, entityID, version, entity)
	if err == nil {
		err = s.changes.Publish(ctx, change)
	}
	if err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"cafe_id":   cafeID.String(),
			"entity_id": entityID.String(),
			"topic":     string(topic),
			"kind":      string(kind),
		})
		s.logg.Error(logCtx, "change stream publish failed", err)
	}
}
