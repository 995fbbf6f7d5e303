/*
store.go - Persistence contract for balances and requests

PURPOSE:
  Defines what the core needs from a backing store, without naming an
  engine. Implementations live in leave/store (memory) and store/sqlite.

KEY INTERFACES:
  Store: reads outside a transaction + WithTx
  Tx:    reads and conditional writes inside one transaction

CONDITIONAL WRITES:
  UpdateBalance(b, expectedVersion) succeeds only if the stored row still
  carries expectedVersion. UpdateRequest(r, expectedState) succeeds only if
  the stored request is still in expectedState. Either failure is
  ErrConcurrentModification.

ATOMICITY:
  WithTx commits every write made through the Tx or none of them. A
  workflow transition writes the request and its balance through the same
  Tx, so neither is observable without the other.

SEE ALSO:
  - ledger.go, workflow.go: the only writers
  - leave/store/memory.go, store/sqlite/sqlite.go: implementations
*/
package leave

import "context"

// BalanceFilter selects balance rows. Zero values match everything.
type BalanceFilter struct {
	UserID            UserID
	LeaveType         LeaveType
	Year              int
	IncludeSuperseded bool
}

// RequestFilter selects requests. From/To select requests whose
// [StartDate, EndDate] intersects the window. Soft-deleted requests are
// never returned.
type RequestFilter struct {
	UserID     UserID
	Department string
	States     []RequestState
	From       *Date
	To         *Date
	ExcludeID  RequestID
}

// Matches is the reference predicate stores implement.
func (f RequestFilter) Matches(r Request) bool {
	if r.DeletedAt != nil {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.Department != "" && r.Department != f.Department {
		return false
	}
	if f.ExcludeID != "" && r.ID == f.ExcludeID {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if r.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && r.EndDate.Before(*f.From) {
		return false
	}
	if f.To != nil && r.StartDate.After(*f.To) {
		return false
	}
	return true
}

func (f BalanceFilter) Matches(b Balance) bool {
	if !f.IncludeSuperseded && b.Status != BalanceActive {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.LeaveType != "" && b.LeaveType != f.LeaveType {
		return false
	}
	if f.Year != 0 && b.Year != f.Year {
		return false
	}
	return true
}

// Reader is the read side shared by Store and Tx.
type Reader interface {
	// GetBalance returns the row with the given id, active or not.
	GetBalance(ctx context.Context, id BalanceID) (*Balance, error)

	// FindActiveBalance returns the active row for key or ErrNotFound.
	FindActiveBalance(ctx context.Context, key BalanceKey) (*Balance, error)

	// ListBalances returns matching rows, newest first.
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)

	// GetRequest returns the request or ErrNotFound.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// ListRequests returns matching requests ordered by StartDate.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// Tx is a transactional view of the store.
type Tx interface {
	Reader

	// InsertBalance creates a row. A second active row for the same key is
	// ErrConcurrentModification.
	InsertBalance(ctx context.Context, b Balance) error

	// UpdateBalance writes b if the stored version equals expectedVersion.
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) error

	InsertRequest(ctx context.Context, r Request) error

	// UpdateRequest writes r if the stored state equals expectedState.
	UpdateRequest(ctx context.Context, r Request, expectedState RequestState) error
}

// Store is the backing store.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// ActorDirectory resolves an actor id to its department and capabilities.
type ActorDirectory interface {
	Resolve(ctx context.Context, id UserID) (Actor, error)
}
