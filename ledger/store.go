/*
store.go - Persistence contracts for accounts, transactions and tasks

PURPOSE:
  Defines the interface between the reward services and the database.
  Implementations must make every individual method atomic and must make
  WithTx all-or-nothing.

KEY INTERFACES:
  AccountStore:     Accounts, atomic balance adjustment
  TransactionStore: Insert-only ledger plus compare-and-set status
  TaskStore:        Offerings and user tasks
  Store:            All of the above
  TxStore:          Store + WithTx

ATOMIC INCREMENT:
  Balances only change through AdjustBalance. There is no SetBalance.
  Two concurrent credits of 1,000 must leave the balance +2,000; a
  caller-side read-compute-write is never correct.

COMPARE-AND-SET:
  SetTransactionStatus and UpdateUserTask take the status the caller
  observed. If the stored row moved on, they fail with ErrInvalidState and
  change nothing. This is what makes "approve twice" pay once.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - errors.go: Errors returned by these contracts
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountReader is the read side needed by the referrer chain walk.
type AccountReader interface {
	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
}

type AccountStore interface {
	AccountReader

	// CreateAccount fails with ErrAlreadyExists on a taken email or
	// referral code.
	CreateAccount(ctx context.Context, acc Account) error

	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByReferralCode(ctx context.Context, code string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// AdjustBalance atomically adds the deltas and returns the new state.
	// A negative resulting balance fails with InsufficientBalanceError and
	// changes nothing.
	AdjustBalance(ctx context.Context, id AccountID, balanceDelta, earningsDelta decimal.Decimal) (*Account, error)

	IncrementInvitedCount(ctx context.Context, id AccountID) error
	SetBanned(ctx context.Context, id AccountID, banned bool) error
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionStore interface {
	// AppendTransaction is insert-only. A non-empty idempotency key that
	// already exists fails with ErrDuplicateIdempotencyKey.
	AppendTransaction(ctx context.Context, tx Transaction) error

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// SetTransactionStatus moves a withdraw row from one status to another.
	// Other kinds and stale `from` values fail with ErrInvalidState.
	SetTransactionStatus(ctx context.Context, id TransactionID, from, to TxStatus) error

	// ListTransactions returns an account's rows oldest first.
	ListTransactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// ListTransactionsByStatus returns rows of one kind and status, oldest first.
	ListTransactionsByStatus(ctx context.Context, kind Kind, status TxStatus) ([]Transaction, error)

	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// OFFERINGS AND TASKS
// =============================================================================

type TaskStore interface {
	CreateOffering(ctx context.Context, o Offering) error
	GetOffering(ctx context.Context, id OfferingID) (*Offering, error)
	ListOfferings(ctx context.Context) ([]Offering, error)

	// DecrementRemaining takes one unit of quantity, failing with ErrSoldOut
	// at zero.
	DecrementRemaining(ctx context.Context, id OfferingID) error

	// CreateUserTask fails with ErrAlreadyClaimed when the account already
	// holds a task for the offering.
	CreateUserTask(ctx context.Context, t UserTask) error

	GetUserTask(ctx context.Context, id TaskID) (*UserTask, error)
	ListUserTasks(ctx context.Context, accountID AccountID) ([]UserTask, error)

	// UpdateUserTask writes t only if the stored status still equals
	// expected, otherwise ErrInvalidState.
	UpdateUserTask(ctx context.Context, t UserTask, expected TaskStatus) error
}

// =============================================================================
// COMPOSITE AND TRANSACTIONAL STORES
// =============================================================================

type Store interface {
	AccountStore
	TransactionStore
	TaskStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
