package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// maxPendingNotices bounds notices held for a consumer that stopped reading.
const maxPendingNotices = 128

var (
	ErrSubscriptionClosed = errors.New("feed subscription closed")
	ErrBadgeNotFound      = errors.New("order item not in feed")
)

// Update is one emission: the full sorted order list and the notices raised
// since the previous emission.
type Update struct {
	Orders  []Order  `json:"orders"`
	Notices []Notice `json:"notices,omitempty"`
}

type dismissCmd struct {
	orderID uuid.UUID
	index   int
	reply   chan error
}

// Subscription owns one snapshot. Every change and command is applied by a
// single goroutine, so the snapshot needs no locking.
type Subscription struct {
	id      string
	cafeID  uuid.UUID
	source  changestream.Subscription
	updates chan Update
	cmds    chan dismissCmd
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	onClose func()
	onFold  func(Notice)
	logg    *logger.Logger
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) CafeID() uuid.UUID { return s.cafeID }

func (s *Subscription) Updates() <-chan Update { return s.updates }

// Done is closed once the subscription stops delivering updates.
func (s *Subscription) Done() <-chan struct{} { return s.stopped }

// Dismiss clears the badge on one item of one order.
func (s *Subscription) Dismiss(ctx context.Context, orderID uuid.UUID, index int) error {
	cmd := dismissCmd{orderID: orderID, index: index, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrSubscriptionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.stopped:
		return ErrSubscriptionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}

func (s *Subscription) run(ctx context.Context, snapshot Snapshot) {
	defer func() {
		_ = s.source.Close()
		if s.onClose != nil {
			s.onClose()
		}
		close(s.stopped)
	}()

	pending := &Update{Orders: snapshot.Orders()}
	changes := s.source.Changes()
	for {
		// A nil out disables the send case. send is copied here because
		// select evaluates the sent value even when out is nil.
		var (
			out  chan<- Update
			send Update
		)
		if pending != nil {
			out = s.updates
			send = *pending
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
			next, notices, err := Apply(snapshot, change)
			if err != nil {
				s.warn(ctx, "dropping undecodable order change", err)
				continue
			}
			snapshot = next
			pending = merge(pending, snapshot, notices)
			if s.onFold != nil {
				for _, notice := range notices {
					s.onFold(notice)
				}
			}
		case cmd := <-s.cmds:
			next, ok := Dismiss(snapshot, cmd.orderID, cmd.index)
			if !ok {
				cmd.reply <- ErrBadgeNotFound
				continue
			}
			snapshot = next
			pending = merge(pending, snapshot, nil)
			cmd.reply <- nil
		case out <- send:
			pending = nil
		}
	}
}

func merge(pending *Update, snapshot Snapshot, notices []Notice) *Update {
	if pending == nil {
		pending = &Update{}
	}
	pending.Orders = snapshot.Orders()
	pending.Notices = append(pending.Notices, notices...)
	if overflow := len(pending.Notices) - maxPendingNotices; overflow > 0 {
		pending.Notices = pending.Notices[overflow:]
	}
	return pending
}

func (s *Subscription) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": s.id,
		"cafe_id":         s.cafeID.String(),
		"error":           err.Error(),
	})
	s.logg.Warn(logCtx, msg)
}
