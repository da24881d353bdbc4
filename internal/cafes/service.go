package cafes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
)

const defaultTrialDays = 14

type cafeRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Cafe, error)
	Create(ctx context.Context, tx *gorm.DB, cafe *models.Cafe) error
	UpdateProfile(ctx context.Context, tx *gorm.DB, cafe *models.Cafe) error
	ExpireTrial(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error)
	ListTrialsDue(ctx context.Context, now time.Time, limit int) ([]models.Cafe, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProvisionInput is the owner-editable cafe profile.
type ProvisionInput struct {
	Name        string
	ServiceMode enums.ServiceMode
}

// Service manages the tenant root and its trial window.
type Service interface {
	Provision(ctx context.Context, ownerID uuid.UUID, input ProvisionInput) (*models.Cafe, error)
	Get(ctx context.Context, cafeID uuid.UUID) (*models.Cafe, error)
	RefreshTrial(ctx context.Context, cafeID uuid.UUID) (*models.Cafe, error)
	ExpireTrials(ctx context.Context, now time.Time, limit int) (int, error)
}

type ServiceParams struct {
	Repo      cafeRepository
	Tx        txRunner
	Outbox    outbox.Emitter
	Logger    *logger.Logger
	TrialDays int
	Now       func() time.Time
}

type service struct {
	repo      cafeRepository
	tx        txRunner
	outbox    outbox.Emitter
	logg      *logger.Logger
	trialDays int
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cafe repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	days := params.TrialDays
	if days <= 0 {
		days = defaultTrialDays
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		logg:      params.Logger,
		trialDays: days,
		now:       now,
	}, nil
}

// Provision creates the cafe owned by ownerID or updates its profile. The
// trial window opens only on first creation.
func (s *service) Provision(ctx context.Context, ownerID uuid.UUID, input ProvisionInput) (*models.Cafe, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner principal required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cafe name required")
	}
	mode := input.ServiceMode
	if mode == "" {
		mode = enums.ServiceModeMenuOrder
	}
	if !mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid service mode")
	}

	var result *models.Cafe
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		existing, err := s.repo.FindByID(ctx, tx, ownerID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ends := now.AddDate(0, 0, s.trialDays)
			cafe := &models.Cafe{
				ID:             ownerID,
				Name:           name,
				ServiceMode:    mode,
				TrialStartedAt: &now,
				TrialEndsAt:    &ends,
				TrialActive:    true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.repo.Create(ctx, tx, cafe); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cafe")
			}
			result = cafe
			return nil
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cafe")
		}

		existing.Name = name
		existing.ServiceMode = mode
		existing.UpdatedAt = now
		if err := s.repo.UpdateProfile(ctx, tx, existing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cafe")
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, cafeID uuid.UUID) (*models.Cafe, error) {
	cafe, err := s.repo.FindByID(ctx, nil, cafeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cafe not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cafe")
	}
	return cafe, nil
}

// RefreshTrial expires a lapsed trial before the cafe is served, so menu
// fetches observe the current ordering state.
func (s *service) RefreshTrial(ctx context.Context, cafeID uuid.UUID) (*models.Cafe, error) {
	cafe, err := s.Get(ctx, cafeID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !cafe.TrialLapsed(now) {
		return cafe, nil
	}
	if err := s.expire(ctx, *cafe, now); err != nil {
		return nil, err
	}
	cafe.TrialActive = false
	cafe.TrialExpired = true
	return cafe, nil
}

// ExpireTrials sweeps up to limit lapsed trials and reports how many flipped.
func (s *service) ExpireTrials(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListTrialsDue(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due trials")
	}
	expired := 0
	var errs error
	for _, cafe := range due {
		if err := s.expire(ctx, cafe, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cafe %s: %w", cafe.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func (s *service) expire(ctx context.Context, cafe models.Cafe, now time.Time) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		flipped, err := s.repo.ExpireTrial(ctx, tx, cafe.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire trial")
		}
		if !flipped {
			return nil
		}
		ends := now
		if cafe.TrialEndsAt != nil {
			ends = *cafe.TrialEndsAt
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTrialExpired,
			AggregateType: enums.AggregateCafe,
			AggregateID:   cafe.ID,
			Actor:         &outbox.ActorRef{CafeID: cafe.ID, Role: outbox.ActorSystem},
			Data: payloads.TrialExpiredEvent{
				CafeID:      cafe.ID,
				TrialEndsAt: ends,
				ExpiredAt:   now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit trial expired")
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithCafeID(ctx, cafe.ID.String()), "cafe trial expired")
		}
		return nil
	})
}
