//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/domain/ports/repository"
)

func seedEntitlement(t *testing.T, userID string, tier model.Tier, seconds int, expiresAt *time.Time) *model.Entitlement {
	t.Helper()
	e, err := model.NewEntitlement(uuid.NewString(), userID, tier, seconds, expiresAt)
	if err != nil {
		t.Fatalf("construct entitlement: %v", err)
	}
	repo := NewEntitlementRepo(testPool)
	if err := repo.Save(context.Background(), repository.NoTX, e); err != nil {
		t.Fatalf("save entitlement: %v", err)
	}
	return e
}

func TestEntitlementRepo_SaveAndFind(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)
	userID := uuid.NewString()

	exp := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	e := seedEntitlement(t, userID, model.TierSilver, 1800, &exp)

	got, err := repo.FindByID(ctx, repository.NoTX, e.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Tier != model.TierSilver || got.RemainingSeconds != 1800 {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, got.ExpiresAt)
	}

	if _, err := repo.FindByID(ctx, repository.NoTX, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestEntitlementRepo_FindActiveByUser(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)
	userID := uuid.NewString()

	seedEntitlement(t, userID, model.TierSilver, 600, nil)
	cancelled := seedEntitlement(t, userID, model.TierAddOn, 300, nil)
	if err := repo.UpdateStatus(ctx, repository.NoTX, cancelled.ID, model.EntitlementStatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	seedEntitlement(t, uuid.NewString(), model.TierSilver, 999, nil) // other user

	rows, err := repo.FindActiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		t.Fatalf("FindActiveByUser: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 active row, got %d", len(rows))
	}
	if rows[0].Tier != model.TierSilver {
		t.Errorf("unexpected tier: %s", rows[0].Tier)
	}
}

func TestEntitlementRepo_UpdateBalances(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)
	txm := NewTxManager(testPool)
	userID := uuid.NewString()

	a := seedEntitlement(t, userID, model.TierSilver, 100, nil)
	b := seedEntitlement(t, userID, model.TierAddOn, 50, nil)

	t.Run("refuses to run outside a transaction", func(t *testing.T) {
		err := repo.UpdateBalances(ctx, repository.NoTX, map[string]int{a.ID: 10})
		if !errors.Is(err, domain.ErrInvalidExecContext) {
			t.Errorf("expected ErrInvalidExecContext, got: %v", err)
		}
	})

	t.Run("commits all rows", func(t *testing.T) {
		err := txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.LockUserTalkTime(ctx, tx, userID); err != nil {
				return err
			}
			return repo.UpdateBalances(ctx, tx, map[string]int{a.ID: 70, b.ID: 0})
		})
		if err != nil {
			t.Fatalf("WithTx: %v", err)
		}
		gotA, _ := repo.FindByID(ctx, repository.NoTX, a.ID)
		gotB, _ := repo.FindByID(ctx, repository.NoTX, b.ID)
		if gotA.RemainingSeconds != 70 || gotB.RemainingSeconds != 0 {
			t.Errorf("expected 70/0, got %d/%d", gotA.RemainingSeconds, gotB.RemainingSeconds)
		}
	})

	t.Run("rolls back every row when one write fails", func(t *testing.T) {
		err := txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return repo.UpdateBalances(ctx, tx, map[string]int{a.ID: 5, uuid.NewString(): 5})
		})
		if !errors.Is(err, domain.ErrEntitlementWriteFailed) {
			t.Fatalf("expected ErrEntitlementWriteFailed, got: %v", err)
		}
		gotA, _ := repo.FindByID(ctx, repository.NoTX, a.ID)
		if gotA.RemainingSeconds != 70 {
			t.Errorf("expected untouched balance 70, got %d", gotA.RemainingSeconds)
		}
	})
}

func TestEntitlementRepo_ResetTierBalances(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)

	seedEntitlement(t, uuid.NewString(), model.TierFree, 3, nil)
	seedEntitlement(t, uuid.NewString(), model.TierSilver, 0, nil)
	addOn := seedEntitlement(t, uuid.NewString(), model.TierAddOn, 42, nil)

	n, err := repo.ResetTierBalances(ctx, repository.NoTX, map[model.Tier]int{
		model.TierFree:   900,
		model.TierSilver: 1800,
	})
	if err != nil {
		t.Fatalf("ResetTierBalances: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows reset, got %d", n)
	}
	got, _ := repo.FindByID(ctx, repository.NoTX, addOn.ID)
	if got.RemainingSeconds != 42 {
		t.Errorf("add-on balance must not be reset, got %d", got.RemainingSeconds)
	}
}
