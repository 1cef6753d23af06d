package repository

import (
	"context"

	"solomate-backend/internal/domain/model"
)

// EntitlementRepository is the port for talk-time entitlements.
//
// Metering only ever reads active rows and rewrites their balances; creation,
// cancellation, and nightly resets belong to the lifecycle methods and are
// never called by the deduction path.
type EntitlementRepository interface {
	Save(ctx context.Context, tx Tx, e *model.Entitlement) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Entitlement, error)

	// FindActiveByUser returns all active entitlements for a user. When tx is
	// a live transaction the rows are read FOR UPDATE so a concurrent
	// deduction for the same user blocks until commit.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)

	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)

	// UpdateBalances sets remaining_seconds for the given rows as a single
	// all-or-nothing write. Callers pass the tx of the surrounding deduction;
	// a partial update must never be observable.
	UpdateBalances(ctx context.Context, tx Tx, balances map[string]int) error

	UpdateStatus(ctx context.Context, tx Tx, id string, status model.EntitlementStatus) error

	// LockUserTalkTime serializes metering for one user inside tx via an
	// advisory transaction lock. It must be called before FindActiveByUser on
	// the deduction path.
	LockUserTalkTime(ctx context.Context, tx Tx, userID string) error

	// ResetTierBalances resets every active entitlement of the given tiers to
	// its ceiling and returns the number of rows touched.
	ResetTierBalances(ctx context.Context, tx Tx, ceilings map[model.Tier]int) (int, error)
}
