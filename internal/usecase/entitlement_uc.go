// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/domain/ports/repository"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase covers the lifecycle flows that surround metering:
// purchase/renewal handlers grant and top up entitlements, billing-event
// handlers cancel them, and the nightly job resets recurring tiers. Metering
// itself never calls any of these.
type EntitlementUseCase interface {
	Grant(ctx context.Context, userID string, tier model.Tier, seconds int, expiresAt *time.Time) (*model.Entitlement, error)
	TopUp(ctx context.Context, entitlementID string, seconds int) (*model.Entitlement, error)
	Cancel(ctx context.Context, entitlementID string) error
	ListByUser(ctx context.Context, userID string) ([]*model.Entitlement, error)

	// ResetNightly resets every active free/silver/premium entitlement to its
	// tier ceiling and returns how many rows were touched.
	ResetNightly(ctx context.Context) (int, error)
}

type entitlementUC struct {
	ents repository.EntitlementRepository
	log  *zerolog.Logger
}

func NewEntitlementUseCase(ents repository.EntitlementRepository, logger *zerolog.Logger) *entitlementUC {
	l := logger.With().Str("component", "EntitlementUC").Logger()
	return &entitlementUC{ents: ents, log: &l}
}

func (uc *entitlementUC) Grant(ctx context.Context, userID string, tier model.Tier, seconds int, expiresAt *time.Time) (*model.Entitlement, error) {
	e, err := model.NewEntitlement(uuid.NewString(), userID, tier, seconds, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := uc.ents.Save(ctx, repository.NoTX, e); err != nil {
		return nil, err
	}
	uc.log.Info().
		Str("user_id", userID).
		Str("entitlement_id", e.ID).
		Str("tier", string(tier)).
		Int("seconds", seconds).
		Msg("entitlement granted")
	return e, nil
}

func (uc *entitlementUC) TopUp(ctx context.Context, entitlementID string, seconds int) (*model.Entitlement, error) {
	if entitlementID == "" || seconds <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	e, err := uc.ents.FindByID(ctx, repository.NoTX, entitlementID)
	if err != nil {
		return nil, err
	}
	if e.Status != model.EntitlementStatusActive {
		return nil, domain.ErrInvalidArgument
	}
	e.RemainingSeconds += seconds
	e.UpdatedAt = time.Now()
	if err := uc.ents.Save(ctx, repository.NoTX, e); err != nil {
		return nil, err
	}
	uc.log.Info().
		Str("entitlement_id", e.ID).
		Int("seconds", seconds).
		Int("new_balance", e.RemainingSeconds).
		Msg("entitlement topped up")
	return e, nil
}

func (uc *entitlementUC) Cancel(ctx context.Context, entitlementID string) error {
	if entitlementID == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.ents.UpdateStatus(ctx, repository.NoTX, entitlementID, model.EntitlementStatusCancelled); err != nil {
		return err
	}
	uc.log.Info().Str("entitlement_id", entitlementID).Msg("entitlement cancelled")
	return nil
}

func (uc *entitlementUC) ListByUser(ctx context.Context, userID string) ([]*model.Entitlement, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return uc.ents.ListByUser(ctx, repository.NoTX, userID)
}

func (uc *entitlementUC) ResetNightly(ctx context.Context) (int, error) {
	ceilings := make(map[model.Tier]int)
	for _, t := range []model.Tier{model.TierFree, model.TierSilver, model.TierPremium} {
		if c := t.ResetCeilingSeconds(); c > 0 {
			ceilings[t] = c
		}
	}
	n, err := uc.ents.ResetTierBalances(ctx, repository.NoTX, ceilings)
	if err != nil {
		return 0, err
	}
	return n, nil
}
