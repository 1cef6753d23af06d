//go:build !integration

package usecase_test

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/domain/ports/repository"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

// ---- Mock TransactionManager ----

// MockTxManager serializes callbacks with a mutex, standing in for the
// per-user advisory lock the Postgres implementation provides. The sentinel
// handle marks the callback as transactional for repositories that care.
type MockTxManager struct {
	mu sync.Mutex
}

type mockTxHandle struct{}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, mockTxHandle{})
}

// ---- Mock EntitlementRepository ----

// MockEntitlementRepo is an in-memory EntitlementRepository. Individual
// methods can be overridden per test via the XxxFunc fields.
type MockEntitlementRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Entitlement

	UpdateBalancesCalls int

	SaveFunc              func(ctx context.Context, tx repository.Tx, e *model.Entitlement) error
	FindActiveByUserFunc  func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error)
	UpdateBalancesFunc    func(ctx context.Context, tx repository.Tx, balances map[string]int) error
	ResetTierBalancesFunc func(ctx context.Context, tx repository.Tx, ceilings map[model.Tier]int) (int, error)
}

var _ repository.EntitlementRepository = (*MockEntitlementRepo)(nil)

func NewMockEntitlementRepo() *MockEntitlementRepo {
	return &MockEntitlementRepo{store: make(map[string]*model.Entitlement)}
}

func (m *MockEntitlementRepo) seed(ents ...*model.Entitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		cp := *e
		m.store[e.ID] = &cp
	}
}

func (m *MockEntitlementRepo) balance(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.store[id]; ok {
		return e.RemainingSeconds
	}
	return -1
}

func (m *MockEntitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.store[e.ID] = &cp
	return nil
}

func (m *MockEntitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockEntitlementRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	if m.FindActiveByUserFunc != nil {
		return m.FindActiveByUserFunc(ctx, tx, userID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entitlement
	for _, e := range m.store {
		if e.UserID == userID && e.Status == model.EntitlementStatusActive {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockEntitlementRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entitlement
	for _, e := range m.store {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockEntitlementRepo) UpdateBalances(ctx context.Context, tx repository.Tx, balances map[string]int) error {
	m.mu.Lock()
	m.UpdateBalancesCalls++
	m.mu.Unlock()
	if m.UpdateBalancesFunc != nil {
		return m.UpdateBalancesFunc(ctx, tx, balances)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, seconds := range balances {
		e, ok := m.store[id]
		if !ok || seconds < 0 {
			return domain.ErrEntitlementWriteFailed
		}
		e.RemainingSeconds = seconds
	}
	return nil
}

func (m *MockEntitlementRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.EntitlementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = status
	return nil
}

func (m *MockEntitlementRepo) LockUserTalkTime(ctx context.Context, tx repository.Tx, userID string) error {
	// Serialization is provided by MockTxManager's mutex.
	return nil
}

func (m *MockEntitlementRepo) ResetTierBalances(ctx context.Context, tx repository.Tx, ceilings map[model.Tier]int) (int, error) {
	if m.ResetTierBalancesFunc != nil {
		return m.ResetTierBalancesFunc(ctx, tx, ceilings)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.store {
		if e.Status != model.EntitlementStatusActive {
			continue
		}
		if ceiling, ok := ceilings[e.Tier]; ok {
			e.RemainingSeconds = ceiling
			n++
		}
	}
	return n, nil
}
