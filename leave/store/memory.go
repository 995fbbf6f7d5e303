// Package store provides an in-memory leave.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps balances and requests in maps. Transactions are optimistic:
// writes are staged on the transaction and validated against the committed
// state when fn returns, so concurrent callers race exactly the way they
// would against a database.
type Memory struct {
	mu       sync.RWMutex
	balances map[leave.BalanceID]leave.Balance
	requests map[leave.RequestID]leave.Request
}

var _ leave.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[leave.BalanceID]leave.Balance),
		requests: make(map[leave.RequestID]leave.Request),
	}
}

func (m *Memory) GetBalance(_ context.Context, id leave.BalanceID) (*leave.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return getBalance(m.balances, id)
}

func (m *Memory) FindActiveBalance(_ context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findActive(m.balances, key)
}

func (m *Memory) ListBalances(_ context.Context, filter leave.BalanceFilter) ([]leave.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return listBalances(m.balances, filter), nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (*leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return getRequest(m.requests, id)
}

func (m *Memory) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return listRequests(m.requests, filter), nil
}

// WithTx executes fn within a transaction. Nothing fn writes is visible to
// other callers until fn returns nil and the staged writes validate.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	tx := &memoryTx{
		parent:   m,
		balances: make(map[leave.BalanceID]*balanceWrite),
		requests: make(map[leave.RequestID]*requestWrite),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

// =============================================================================
// COMMIT
// =============================================================================

func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range tx.balances {
		cur, exists := m.balances[id]
		if w.insert {
			if exists {
				return leave.ErrConcurrentModification
			}
			continue
		}
		if !exists || cur.Version != w.expectedVersion {
			return leave.ErrConcurrentModification
		}
	}
	for id, w := range tx.requests {
		cur, exists := m.requests[id]
		if w.insert {
			if exists {
				return leave.ErrConcurrentModification
			}
			continue
		}
		if !exists || cur.State != w.expectedState {
			return leave.ErrConcurrentModification
		}
	}

	balances := tx.mergeBalances(m.balances)
	requests := tx.mergeRequests(m.requests)
	for _, w := range tx.balances {
		if w.insert && w.b.Status == leave.BalanceActive && countActive(balances, w.b.Key()) > 1 {
			return leave.ErrConcurrentModification
		}
	}
	for _, w := range tx.requests {
		if w.insert && w.r.State.IsActive() && overlapsOther(requests, w.r) {
			return leave.ErrConcurrentModification
		}
	}

	for id, w := range tx.balances {
		m.balances[id] = w.b
	}
	for id, w := range tx.requests {
		m.requests[id] = w.r
	}
	return nil
}

func countActive(balances map[leave.BalanceID]leave.Balance, key leave.BalanceKey) int {
	n := 0
	for _, b := range balances {
		if b.Status == leave.BalanceActive && b.Key() == key {
			n++
		}
	}
	return n
}

func overlapsOther(requests map[leave.RequestID]leave.Request, r leave.Request) bool {
	for _, other := range requests {
		if other.ID == r.ID || other.UserID != r.UserID || other.DeletedAt != nil || !other.State.IsActive() {
			continue
		}
		if leave.Overlaps(other.StartDate, other.EndDate, r.StartDate, r.EndDate) {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type balanceWrite struct {
	b               leave.Balance
	insert          bool
	expectedVersion int64 // version committed when first staged
}

type requestWrite struct {
	r             leave.Request
	insert        bool
	expectedState leave.RequestState
}

type memoryTx struct {
	parent   *Memory
	balances map[leave.BalanceID]*balanceWrite
	requests map[leave.RequestID]*requestWrite
}

// mergeBalances overlays staged writes on committed. Caller holds a lock.
func (tx *memoryTx) mergeBalances(committed map[leave.BalanceID]leave.Balance) map[leave.BalanceID]leave.Balance {
	out := make(map[leave.BalanceID]leave.Balance, len(committed)+len(tx.balances))
	for id, b := range committed {
		out[id] = b
	}
	for id, w := range tx.balances {
		out[id] = w.b
	}
	return out
}

func (tx *memoryTx) mergeRequests(committed map[leave.RequestID]leave.Request) map[leave.RequestID]leave.Request {
	out := make(map[leave.RequestID]leave.Request, len(committed)+len(tx.requests))
	for id, r := range committed {
		out[id] = r
	}
	for id, w := range tx.requests {
		out[id] = w.r
	}
	return out
}

func (tx *memoryTx) balanceView() map[leave.BalanceID]leave.Balance {
	tx.parent.mu.RLock()
	defer tx.parent.mu.RUnlock()
	return tx.mergeBalances(tx.parent.balances)
}

func (tx *memoryTx) requestView() map[leave.RequestID]leave.Request {
	tx.parent.mu.RLock()
	defer tx.parent.mu.RUnlock()
	return tx.mergeRequests(tx.parent.requests)
}

func (tx *memoryTx) GetBalance(_ context.Context, id leave.BalanceID) (*leave.Balance, error) {
	return getBalance(tx.balanceView(), id)
}

func (tx *memoryTx) FindActiveBalance(_ context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	return findActive(tx.balanceView(), key)
}

func (tx *memoryTx) ListBalances(_ context.Context, filter leave.BalanceFilter) ([]leave.Balance, error) {
	return listBalances(tx.balanceView(), filter), nil
}

func (tx *memoryTx) GetRequest(_ context.Context, id leave.RequestID) (*leave.Request, error) {
	return getRequest(tx.requestView(), id)
}

func (tx *memoryTx) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	return listRequests(tx.requestView(), filter), nil
}

func (tx *memoryTx) InsertBalance(_ context.Context, b leave.Balance) error {
	view := tx.balanceView()
	if _, exists := view[b.ID]; exists {
		return leave.ErrConcurrentModification
	}
	if b.Status == leave.BalanceActive {
		if _, err := findActive(view, b.Key()); err == nil {
			return leave.ErrConcurrentModification
		}
	}
	tx.balances[b.ID] = &balanceWrite{b: b, insert: true}
	return nil
}

func (tx *memoryTx) UpdateBalance(_ context.Context, b leave.Balance, expectedVersion int64) error {
	cur, ok := tx.balanceView()[b.ID]
	if !ok {
		return leave.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return leave.ErrConcurrentModification
	}
	if w, staged := tx.balances[b.ID]; staged {
		w.b = b
		return nil
	}
	tx.balances[b.ID] = &balanceWrite{b: b, expectedVersion: expectedVersion}
	return nil
}

func (tx *memoryTx) InsertRequest(_ context.Context, r leave.Request) error {
	if _, exists := tx.requestView()[r.ID]; exists {
		return leave.ErrConcurrentModification
	}
	tx.requests[r.ID] = &requestWrite{r: r, insert: true}
	return nil
}

func (tx *memoryTx) UpdateRequest(_ context.Context, r leave.Request, expectedState leave.RequestState) error {
	cur, ok := tx.requestView()[r.ID]
	if !ok {
		return leave.ErrNotFound
	}
	if cur.State != expectedState {
		return leave.ErrConcurrentModification
	}
	if w, staged := tx.requests[r.ID]; staged {
		w.r = r
		return nil
	}
	tx.requests[r.ID] = &requestWrite{r: r, expectedState: expectedState}
	return nil
}

// =============================================================================
// QUERIES - Shared by the store and its transactions
// =============================================================================

func getBalance(balances map[leave.BalanceID]leave.Balance, id leave.BalanceID) (*leave.Balance, error) {
	b, ok := balances[id]
	if !ok {
		return nil, leave.ErrNotFound
	}
	return &b, nil
}

func findActive(balances map[leave.BalanceID]leave.Balance, key leave.BalanceKey) (*leave.Balance, error) {
	for _, b := range balances {
		if b.Status == leave.BalanceActive && b.Key() == key {
			return &b, nil
		}
	}
	return nil, leave.ErrNotFound
}

func listBalances(balances map[leave.BalanceID]leave.Balance, filter leave.BalanceFilter) []leave.Balance {
	var result []leave.Balance
	for _, b := range balances {
		if filter.Matches(b) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		if result[i].Version != result[j].Version {
			return result[i].Version > result[j].Version
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func getRequest(requests map[leave.RequestID]leave.Request, id leave.RequestID) (*leave.Request, error) {
	r, ok := requests[id]
	if !ok || r.DeletedAt != nil {
		return nil, leave.ErrNotFound
	}
	return &r, nil
}

func listRequests(requests map[leave.RequestID]leave.Request, filter leave.RequestFilter) []leave.Request {
	var result []leave.Request
	for _, r := range requests {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
