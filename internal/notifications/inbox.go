package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/pagination"
)

// Service is the owner's notification inbox.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, cafeID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, cafeID uuid.UUID) (int64, error)
}

type ListParams struct {
	CafeID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult is one inbox page. Unread counts the whole inbox, not the page,
// so the dashboard badge stays correct while paging.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
	Unread int64                 `json:"unread"`
}

type inbox struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("notifications repository required")
	}
	return &inbox{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func requireCafe(cafeID uuid.UUID) error {
	if cafeID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "cafe id required")
	}
	return nil
}

func (s *inbox) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := requireCafe(params.CafeID); err != nil {
		return nil, err
	}
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.Page(ctx, inboxQuery{
		CafeID:     params.CafeID,
		Limit:      params.Limit,
		After:      after,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	unread, err := s.repo.UnreadCount(ctx, params.CafeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}

	result := &ListResult{Items: rows, Unread: unread}
	if result.Items == nil {
		result.Items = []models.Notification{}
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// MarkRead is idempotent: marking an already read notification succeeds.
// Notifications of other cafes are reported as not found.
func (s *inbox) MarkRead(ctx context.Context, cafeID, notificationID uuid.UUID) error {
	if err := requireCafe(cafeID); err != nil {
		return err
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	outcome, err := s.repo.MarkRead(ctx, cafeID, notificationID, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if outcome == markNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *inbox) MarkAllRead(ctx context.Context, cafeID uuid.UUID) (int64, error) {
	if err := requireCafe(cafeID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, cafeID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return n, nil
}
