// File: internal/usecase/metering_uc.go
package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/domain/ports/repository"
	"solomate-backend/internal/infra/metrics"
)

// Compile-time check
var _ MeteringUseCase = (*meteringUC)(nil)

// MeteringUseCase exposes the two talk-time operations consumed by voice
// sessions: balance inquiry and deduction.
type MeteringUseCase interface {
	// ActiveTalkTime aggregates the user's usable talk-time across active
	// entitlements. Read-only.
	ActiveTalkTime(ctx context.Context, userID string) (*model.TalkTimeBalance, error)

	// Deduct subtracts secondsRequested from the user's entitlements in drain
	// priority order, all-or-nothing. On success it returns the committed plan
	// and the post-deduction balance. When the balance cannot cover the
	// request it returns the would-be partial plan for diagnostics together
	// with a *domain.InsufficientTalkTimeError, and nothing is persisted.
	Deduct(ctx context.Context, userID string, secondsRequested int) (*model.DeductionPlan, *model.TalkTimeBalance, error)
}

type meteringUC struct {
	ents repository.EntitlementRepository
	txm  repository.TransactionManager
	log  *zerolog.Logger
}

func NewMeteringUseCase(ents repository.EntitlementRepository, txm repository.TransactionManager, logger *zerolog.Logger) *meteringUC {
	l := logger.With().Str("component", "MeteringUC").Logger()
	return &meteringUC{ents: ents, txm: txm, log: &l}
}

func (uc *meteringUC) ActiveTalkTime(ctx context.Context, userID string) (*model.TalkTimeBalance, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	rows, err := uc.ents.FindActiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		uc.log.Error().Err(err).Str("user_id", userID).Msg("entitlement lookup failed")
		return nil, domain.ErrEntitlementLookupFailed
	}
	return aggregate(rows), nil
}

// aggregate buckets active entitlements per the visibility rules: zero
// balances contribute nothing, and free time is suppressed entirely once any
// paid tier exists (even an exhausted one).
func aggregate(rows []*model.Entitlement) *model.TalkTimeBalance {
	hasPaid := false
	for _, e := range rows {
		if e.Tier.IsPaid() {
			hasPaid = true
			break
		}
	}

	breakdown := make(map[string]model.BalanceBucket)
	total := 0
	for _, e := range rows {
		if e.RemainingSeconds <= 0 {
			continue
		}
		if hasPaid && e.Tier == model.TierFree {
			continue
		}
		key := e.BucketKey()
		if b, ok := breakdown[key]; ok {
			// Rare: multiple rows on one non-add-on tier collapse into the
			// tier bucket without double counting the total.
			b.Seconds += e.RemainingSeconds
			breakdown[key] = b
		} else {
			breakdown[key] = model.BalanceBucket{
				EntitlementID: e.ID,
				Tier:          e.Tier,
				Seconds:       e.RemainingSeconds,
			}
		}
		total += e.RemainingSeconds
	}
	return &model.TalkTimeBalance{TotalSeconds: total, Breakdown: breakdown}
}

func (uc *meteringUC) Deduct(ctx context.Context, userID string, secondsRequested int) (*model.DeductionPlan, *model.TalkTimeBalance, error) {
	if userID == "" || secondsRequested < 0 {
		return nil, nil, domain.ErrInvalidArgument
	}

	plan := &model.DeductionPlan{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Requested: secondsRequested,
	}

	if secondsRequested == 0 {
		// Trivially satisfied, no store writes.
		balance, err := uc.ActiveTalkTime(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		return plan, balance, nil
	}

	start := time.Now()

	// The whole read-compute-write cycle runs inside one transaction behind a
	// per-user advisory lock, so two overlapping sessions for the same user
	// serialize and either all row updates commit or none do.
	err := uc.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.ents.LockUserTalkTime(ctx, tx, userID); err != nil {
			return err
		}
		rows, err := uc.ents.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return domain.ErrEntitlementLookupFailed
		}

		plan.Deductions = plan.Deductions[:0]
		balances := make(map[string]int)
		needed := secondsRequested

		hasPaid := false
		for _, e := range rows {
			if e.Tier.IsPaid() {
				hasPaid = true
				break
			}
		}

		for _, tier := range model.DrainOrder {
			if needed == 0 {
				break
			}
			if tier == model.TierFree && hasPaid {
				// Paid time must never be shadowed by free time.
				continue
			}
			for _, e := range tierRowsByExpiration(rows, tier) {
				if needed == 0 {
					break
				}
				take := e.RemainingSeconds
				if take > needed {
					take = needed
				}
				newBalance := e.RemainingSeconds - take
				plan.Deductions = append(plan.Deductions, model.Deduction{
					EntitlementID:   e.ID,
					Tier:            e.Tier,
					SecondsDeducted: take,
					NewBalance:      newBalance,
				})
				balances[e.ID] = newBalance
				needed -= take
			}
		}

		if needed > 0 {
			return &domain.InsufficientTalkTimeError{
				Requested: secondsRequested,
				Available: secondsRequested - needed,
			}
		}

		if err := uc.ents.UpdateBalances(ctx, tx, balances); err != nil {
			return domain.ErrEntitlementWriteFailed
		}
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		if ite, ok := err.(*domain.InsufficientTalkTimeError); ok {
			metrics.ObserveDeduction("insufficient", elapsed)
			uc.log.Debug().
				Str("user_id", userID).
				Int("requested", ite.Requested).
				Int("available", ite.Available).
				Msg("deduction rejected: insufficient talk time")
			return plan, nil, ite
		}
		metrics.ObserveDeduction("error", elapsed)
		return nil, nil, err
	}

	metrics.ObserveDeduction("ok", elapsed)
	for _, d := range plan.Deductions {
		metrics.AddSecondsDeducted(string(d.Tier), d.SecondsDeducted)
	}
	uc.log.Debug().
		Str("user_id", userID).
		Str("plan_id", plan.ID).
		Int("seconds", secondsRequested).
		Int("entries", len(plan.Deductions)).
		Msg("talk time deducted")

	balance, err := uc.ActiveTalkTime(ctx, userID)
	if err != nil {
		// The deduction itself committed; hand back the plan so the caller can
		// tell a failed read from a failed write.
		uc.log.Warn().Err(err).Str("user_id", userID).Msg("post-deduction balance lookup failed")
		return plan, nil, err
	}
	return plan, balance, nil
}

// tierRowsByExpiration returns the tier's rows with a positive balance,
// soonest-expiring first. Rows without an expiration have the longest runway
// and sort last; ID breaks remaining ties so the walk is deterministic.
func tierRowsByExpiration(rows []*model.Entitlement, tier model.Tier) []*model.Entitlement {
	var out []*model.Entitlement
	for _, e := range rows {
		if e.Tier == tier && e.RemainingSeconds > 0 {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID < out[j].ID
		default:
			return a.Before(*b)
		}
	})
	return out
}
