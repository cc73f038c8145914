/*
Package ledger provides the account and transaction model of the reward platform.

PURPOSE:
  Users earn money by completing tasks. Every change to an account balance
  is recorded as a Transaction row. The ledger package owns the data model,
  the store contracts, the referrer-chain walk and the reconciliation check
  that proves balances and transactions agree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Balance holder with an optional referrer
  - Transaction: Ledger row recording one signed balance change
  - Offering / UserTask: Claimable reward tasks and their per-user instances
  - Kind / TxStatus / TaskStatus: Closed enumerations

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Sign convention: Credits are positive, withdrawals are always negative
  3. Auditability: Every transaction has a kind, description and, where the
     caller provides one, an idempotency key

SEE ALSO:
  - store.go: Persistence contracts
  - chain.go: Referrer chain resolution
  - reconcile.go: Balance vs. ledger reconciliation
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string
type TaskID string
type OfferingID string

func NewAccountID() AccountID         { return AccountID(uuid.NewString()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }
func NewTaskID() TaskID               { return TaskID(uuid.NewString()) }
func NewOfferingID() OfferingID       { return OfferingID(uuid.NewString()) }

// MustParseDecimal parses s or returns zero. Intended for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID            AccountID
	Email         string
	Phone         string
	Country       string
	Currency      string
	Balance       decimal.Decimal
	TotalEarnings decimal.Decimal
	ReferrerID    *AccountID
	ReferralCode  string
	InvitedCount  int
	Banned        bool
	CreatedAt     time.Time
}

// Label is the name used in commission descriptions.
func (a Account) Label() string {
	if a.Email != "" {
		return a.Email
	}
	return string(a.ID)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Kind string

const (
	KindTaskReward    Kind = "task_reward"
	KindReferralBonus Kind = "referral_bonus"
	KindWithdraw      Kind = "withdraw"
	KindSystemBonus   Kind = "system_bonus"
	KindAdminGift     Kind = "admin_gift"
	KindVIPBonus      Kind = "vip_bonus"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTaskReward, KindReferralBonus, KindWithdraw, KindSystemBonus, KindAdminGift, KindVIPBonus:
		return true
	}
	return false
}

type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	Kind           Kind
	Amount         decimal.Decimal // signed; withdrawals are negative
	Description    string
	Status         TxStatus
	IdempotencyKey string // empty means "no key"
	ReferenceID    string // task id, source tx id, etc.
	CreatedAt      time.Time
}

// IsHold reports whether the row is a withdrawal still awaiting audit. Its
// debit is already applied to the balance.
func (t Transaction) IsHold() bool {
	return t.Kind == KindWithdraw && t.Status == TxPending
}

// =============================================================================
// OFFERINGS AND USER TASKS
// =============================================================================

type Offering struct {
	ID           OfferingID
	Name         string
	RewardAmount decimal.Decimal
	RemainingQty int
	TotalQty     int
	Online       bool
	CreatedAt    time.Time
}

type TaskStatus string

const (
	TaskOngoing   TaskStatus = "ongoing"
	TaskReviewing TaskStatus = "reviewing"
	TaskCompleted TaskStatus = "completed"
	TaskRejected  TaskStatus = "rejected"
)

// UserTask is one account's claim on an offering. RewardAmount is captured
// at claim time and never re-read from the offering.
type UserTask struct {
	ID           TaskID
	AccountID    AccountID
	OfferingID   OfferingID
	OfferingName string
	RewardAmount decimal.Decimal
	Status       TaskStatus
	ProofURL     string
	RejectReason string
	StartedAt    time.Time
	SubmittedAt  *time.Time
	CompletedAt  *time.Time
}
