package history

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// Subscription delivers the current history window after every change. A
// slow reader only ever sees the latest window.
type Subscription struct {
	cafeID  uuid.UUID
	source  changestream.Subscription
	window  int
	updates chan []models.OrderHistoryEntry
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	onClose func()
	logg    *logger.Logger
}

func newSubscription(cafeID uuid.UUID, source changestream.Subscription, window int, logg *logger.Logger) *Subscription {
	return &Subscription{
		cafeID:  cafeID,
		source:  source,
		window:  window,
		updates: make(chan []models.OrderHistoryEntry),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logg:    logg,
	}
}

func (s *Subscription) Updates() <-chan []models.OrderHistoryEntry { return s.updates }

func (s *Subscription) Done() <-chan struct{} { return s.stopped }

func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}

func (s *Subscription) run(ctx context.Context, entries []models.OrderHistoryEntry) {
	defer func() {
		_ = s.source.Close()
		if s.onClose != nil {
			s.onClose()
		}
		close(s.stopped)
	}()

	pending := true
	changes := s.source.Changes()
	for {
		var out chan<- []models.OrderHistoryEntry
		if pending {
			out = s.updates
		}
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			next, changed, err := Apply(entries, change, s.window)
			if err != nil {
				if s.logg != nil {
					logCtx := s.logg.WithFields(ctx, map[string]any{
						"cafe_id": s.cafeID.String(),
						"error":   err.Error(),
					})
					s.logg.Warn(logCtx, "dropping undecodable history change")
				}
				continue
			}
			if changed {
				entries = next
				pending = true
			}
		case out <- entries:
			pending = false
		}
	}
}
