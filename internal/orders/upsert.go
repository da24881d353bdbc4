package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/internal/session"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/metrics"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

// errWriteConflict marks an attempt that lost a race on the pending tuple.
var errWriteConflict = errors.New("pending order write conflict")

// upsertPendingOrder is the only write path for pending orders. Each attempt
// runs one transaction; the partial unique index on the pending tuple and the
// version check on updates turn a lost race into errWriteConflict, which is
// retried with linear backoff up to maxAttempts.
func (s *service) upsertPendingOrder(ctx context.Context, cafeID uuid.UUID, client session.ClientContext, items types.LineItems) (*PlaceResult, error) {
	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewLinear(s.backoff))

	var (
		result  *PlaceResult
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncWrite(metrics.OrderWriteRetried)
			s.warnRetry(ctx, cafeID, client.TableNo, attempt)
		}
		var err error
		result, err = s.upsertOnce(ctx, cafeID, client, items)
		if err != nil && isWriteConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
	case isWriteConflict(err):
		s.metrics.IncWrite(metrics.OrderWriteConflict)
		return nil, pkgerrors.Wrap(pkgerrors.CodeWriteConflict, err, "order is being updated concurrently, retry")
	case ctx.Err() != nil && err == ctx.Err():
		// retry.Do hands back the bare context error when it stops waiting.
		return nil, pkgerrors.Wrap(pkgerrors.CodeWriteConflict, err, "order write abandoned")
	default:
		return nil, err
	}

	if result.Created {
		s.metrics.IncWrite(metrics.OrderWriteCreated)
	} else {
		s.metrics.IncWrite(metrics.OrderWriteMerged)
	}
	return result, nil
}

func (s *service) warnRetry(ctx context.Context, cafeID uuid.UUID, tableNo string, attempt int) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"cafe_id":  cafeID.String(),
		"table_no": tableNo,
		"attempt":  attempt,
	})
	s.logg.Warn(logCtx, "retrying pending order write")
}

func (s *service) upsertOnce(ctx context.Context, cafeID uuid.UUID, client session.ClientContext, items types.LineItems) (*PlaceResult, error) {
	var result *PlaceResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()

		cafe, err := s.cafes.FindByID(ctx, tx, cafeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cafe not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cafe")
		}
		if !cafe.OrderingEnabled(now) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "ordering is not enabled for this cafe")
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPending(ctx, cafeID, string(client.SessionID), client.TableNo)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return classifyWriteError(err, "load pending order")
		}

		if existing == nil {
			order := newPendingOrder(cafeID, client, items, now)
			if err := repo.CreateOrder(ctx, order); err != nil {
				return classifyWriteError(err, "create order")
			}
			if err := s.outbox.Emit(ctx, tx, placedEvent(order)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order placed")
			}
			result = &PlaceResult{OrderID: order.ID, Order: order, Created: true, AddedItems: items}
			return nil
		}

		read := existing.Version
		mergeItems(existing, items, now)
		ok, err := repo.UpdatePending(ctx, existing, read)
		if err != nil {
			return classifyWriteError(err, "update order")
		}
		if !ok {
			return fmt.Errorf("%w: version %d superseded", errWriteConflict, read)
		}
		if err := s.outbox.Emit(ctx, tx, itemsAddedEvent(existing, items)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order items added")
		}
		result = &PlaceResult{OrderID: existing.ID, Order: existing, AddedItems: items}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func newPendingOrder(cafeID uuid.UUID, client session.ClientContext, items types.LineItems, now time.Time) *models.Order {
	list := make(types.LineItems, len(items))
	copy(list, items)
	return &models.Order{
		ID:            uuid.New(),
		CafeID:        cafeID,
		SessionID:     string(client.SessionID),
		TableNo:       client.TableNo,
		CustomerName:  client.CustomerName,
		Items:         list,
		RecentlyAdded: items.Names(),
		TotalAmount:   list.Total(),
		Status:        enums.OrderStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// mergeItems appends the batch and recomputes the total over the whole list.
func mergeItems(order *models.Order, items types.LineItems, now time.Time) {
	merged := make(types.LineItems, 0, len(order.Items)+len(items))
	merged = append(merged, order.Items...)
	merged = append(merged, items...)
	order.Items = merged
	order.TotalAmount = merged.Total()
	order.RecentlyAdded = items.Names()
	order.UpdatedAt = now
	order.Version++
}

func classifyWriteError(err error, op string) error {
	if db.IsUniqueViolation(err, "") || db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %s: %v", errWriteConflict, op, err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func isWriteConflict(err error) bool {
	if errors.Is(err, errWriteConflict) {
		return true
	}
	if typed := pkgerrors.As(err); typed != nil {
		return false
	}
	return db.IsSerializationFailure(err)
}

func actorFor(order *models.Order) *outbox.ActorRef {
	return &outbox.ActorRef{CafeID: order.CafeID, SessionID: order.SessionID, Role: outbox.ActorCustomer}
}

func placedEvent(order *models.Order) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorFor(order),
		Data: payloads.OrderPlacedEvent{
			OrderID:      order.ID,
			CafeID:       order.CafeID,
			SessionID:    order.SessionID,
			TableNo:      order.TableNo,
			CustomerName: order.CustomerName,
			Items:        order.Items,
			ItemCount:    order.Items.Count(),
			TotalAmount:  order.TotalAmount,
			CreatedAt:    order.CreatedAt,
		},
		OccurredAt: order.CreatedAt,
	}
}

func itemsAddedEvent(order *models.Order, added types.LineItems) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderItemsAdded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorFor(order),
		Data: payloads.OrderItemsAddedEvent{
			OrderID:      order.ID,
			CafeID:       order.CafeID,
			TableNo:      order.TableNo,
			CustomerName: order.CustomerName,
			AddedItems:   added,
			AddedCount:   len(added),
			TotalAmount:  order.TotalAmount,
			Version:      order.Version,
		},
		OccurredAt: order.UpdatedAt,
	}
}

func finalizedEvent(order *models.Order, entry models.OrderHistoryEntry) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderFinalized,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{CafeID: order.CafeID, Role: outbox.ActorOwner},
		Data: payloads.OrderFinalizedEvent{
			OrderID:      entry.ID,
			CafeID:       entry.CafeID,
			SessionID:    entry.SessionID,
			TableNo:      entry.TableNo,
			CustomerName: entry.CustomerName,
			Status:       entry.Status,
			Items:        entry.Items,
			ItemCount:    entry.Items.Count(),
			TotalAmount:  entry.TotalAmount,
			CreatedAt:    entry.CreatedAt,
			FinalizedAt:  entry.FinalizedAt,
		},
		OccurredAt: entry.FinalizedAt,
	}
}
