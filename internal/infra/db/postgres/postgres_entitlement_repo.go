package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/domain/ports/repository"
)

// Ensure entitlementRepo implements repository.EntitlementRepository
var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

const entitlementCols = `id, user_id, tier, remaining_seconds, status, expires_at, created_at, updated_at`

func (r *entitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	const q = `
INSERT INTO entitlements (
  id, user_id, tier, remaining_seconds, status, expires_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  remaining_seconds=$4, status=$5, expires_at=$6, updated_at=$8;`

	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, e.Tier, e.RemainingSeconds, e.Status, e.ExpiresAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *entitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	const q = `SELECT ` + entitlementCols + ` FROM entitlements WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanEntitlement(row)
}

func (r *entitlementRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	q := `
SELECT ` + entitlementCols + `
  FROM entitlements
 WHERE user_id=$1 AND status='active'
 ORDER BY created_at ASC`
	if _, inTx := tx.(pgx.Tx); inTx {
		// Row locks back up the advisory lock: a concurrent writer outside the
		// metering path still cannot move balances under us.
		q += `
   FOR UPDATE`
	}
	q += `;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *entitlementRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementCols + `
  FROM entitlements
 WHERE user_id=$1
 ORDER BY created_at ASC;`
	return r.queryMany(ctx, tx, q, userID)
}

// UpdateBalances rewrites remaining_seconds for the given rows. It refuses to
// run outside a transaction: one deduction's writes commit or roll back as a
// unit.
func (r *entitlementRepo) UpdateBalances(ctx context.Context, tx repository.Tx, balances map[string]int) error {
	if _, inTx := tx.(pgx.Tx); !inTx {
		return domain.ErrInvalidExecContext
	}
	const q = `
UPDATE entitlements
   SET remaining_seconds=$2, updated_at=NOW()
 WHERE id=$1 AND status='active' AND $2 >= 0;`
	for id, seconds := range balances {
		if seconds < 0 {
			return domain.ErrInvalidArgument
		}
		cmd, err := execSQL(ctx, r.pool, tx, q, id, seconds)
		if err != nil {
			return domain.ErrEntitlementWriteFailed
		}
		if cmd.RowsAffected() != 1 {
			// Row vanished or flipped status mid-deduction; abort the tx.
			return domain.ErrEntitlementWriteFailed
		}
	}
	return nil
}

func (r *entitlementRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.EntitlementStatus) error {
	const q = `UPDATE entitlements SET status=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, status)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LockUserTalkTime takes a per-user advisory lock scoped to the transaction,
// serializing concurrent deductions for the same user. Released on
// commit/rollback.
func (r *entitlementRepo) LockUserTalkTime(ctx context.Context, tx repository.Tx, userID string) error {
	if _, inTx := tx.(pgx.Tx); !inTx {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64(userID))
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *entitlementRepo) ResetTierBalances(ctx context.Context, tx repository.Tx, ceilings map[model.Tier]int) (int, error) {
	const q = `
UPDATE entitlements
   SET remaining_seconds=$2, updated_at=NOW()
 WHERE tier=$1 AND status='active';`
	total := 0
	for tier, ceiling := range ceilings {
		cmd, err := execSQL(ctx, r.pool, tx, q, tier, ceiling)
		if err != nil {
			return total, domain.ErrOperationFailed
		}
		total += int(cmd.RowsAffected())
	}
	return total, nil
}

func (r *entitlementRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Entitlement, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	e := &model.Entitlement{}
	var tier, status string
	if err := row.Scan(&e.ID, &e.UserID, &tier, &e.RemainingSeconds, &status, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	e.Tier = model.Tier(tier)
	e.Status = model.EntitlementStatus(status)
	return e, nil
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}
