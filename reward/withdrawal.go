package reward

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/settings"
)

// =============================================================================
// WITHDRAWALS
// =============================================================================
//
// Sign convention: withdraw rows are always stored with a NEGATIVE amount.
//
//   request:      balance -= amount, append {withdraw, -amount, pending}
//   audit ok:     pending -> success, no balance effect
//   audit failed: pending -> failed, balance += |amount|
//
// The status flip is compare-and-set on "pending", so a second audit of the
// same row fails before it can refund again.

type WithdrawalRequest struct {
	AccountID   ledger.AccountID
	Amount      decimal.Decimal // positive amount to take out
	Destination string          // bank or e-wallet reference shown to the auditor; required
}

type WithdrawalReceipt struct {
	Transaction ledger.Transaction
	Refunded    decimal.Decimal
}

type WithdrawalController struct {
	tx       txRunner
	settings *settings.Provider
	logger   *zap.Logger
}

func NewWithdrawalController(store ledger.TxStore, provider *settings.Provider, logger *zap.Logger) *WithdrawalController {
	logger = logging.OrNop(logger)
	if provider == nil {
		provider = settings.NewProvider(nil)
	}
	return &WithdrawalController{
		tx:       txRunner{store: store, logger: logger},
		settings: provider,
		logger:   logger,
	}
}

// RequestWithdrawal debits the balance now and leaves a pending row for audit.
// The account must have a phone number bound and name a payout destination.
func (c *WithdrawalController) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*ledger.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal must be positive", ledger.ErrInvalidAmount)
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		return nil, fmt.Errorf("%w: a payout destination is required", ledger.ErrInvalidInput)
	}
	cfg := c.settings.Current()

	var out ledger.Transaction
	err := c.tx.run(ctx, "request_withdrawal", func(st ledger.Store) error {
		acc, err := st.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if acc.Banned {
			return &ledger.TransitionError{
				Entity: "account", ID: string(acc.ID), Reason: "account is banned",
			}
		}
		if acc.Phone == "" {
			return &ledger.TransitionError{
				Entity: "account", ID: string(acc.ID), Reason: "phone number not bound",
			}
		}
		if minimum := cfg.MinWithdrawalFor(acc.Country); req.Amount.LessThan(minimum) {
			return fmt.Errorf("%w: minimum withdrawal is %s", ledger.ErrInvalidAmount, minimum)
		}

		if _, err := st.AdjustBalance(ctx, acc.ID, req.Amount.Neg(), decimal.Zero); err != nil {
			return err
		}

		out = ledger.Transaction{
			ID:          ledger.NewTransactionID(),
			AccountID:   acc.ID,
			Kind:        ledger.KindWithdraw,
			Amount:      req.Amount.Neg(),
			Description: "Withdrawal to " + dest,
			Status:      ledger.TxPending,
			CreatedAt:   now(),
		}
		return st.AppendTransaction(ctx, out)
	})
	if err != nil {
		c.logger.Info("withdrawal refused",
			zap.String("account_id", string(req.AccountID)),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return nil, err
	}

	c.logger.Info("withdrawal requested",
		zap.String("account_id", string(out.AccountID)),
		zap.String("kind", string(out.Kind)),
		zap.String("amount", out.Amount.String()),
		zap.String("tx_id", string(out.ID)))
	return &out, nil
}

// AuditWithdrawal settles a pending withdrawal as success or failed.
func (c *WithdrawalController) AuditWithdrawal(ctx context.Context, id ledger.TransactionID, decision ledger.TxStatus) (*WithdrawalReceipt, error) {
	if decision != ledger.TxSuccess && decision != ledger.TxFailed {
		return nil, fmt.Errorf("%w: decision must be success or failed, got %q", ledger.ErrInvalidInput, decision)
	}

	var receipt WithdrawalReceipt
	err := c.tx.run(ctx, "audit_withdrawal", func(st ledger.Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx.Kind != ledger.KindWithdraw {
			return &ledger.TransitionError{
				Entity: "transaction", ID: string(id), From: string(tx.Status), To: string(decision),
				Reason: "not a withdrawal",
			}
		}
		if tx.Status != ledger.TxPending {
			return &ledger.TransitionError{
				Entity: "transaction", ID: string(id), From: string(tx.Status), To: string(decision),
				Reason: "withdrawal already audited",
			}
		}

		if err := st.SetTransactionStatus(ctx, id, ledger.TxPending, decision); err != nil {
			return err
		}
		tx.Status = decision
		receipt = WithdrawalReceipt{Transaction: *tx, Refunded: decimal.Zero}

		if decision == ledger.TxFailed {
			refund := tx.Amount.Abs()
			if _, err := st.AdjustBalance(ctx, tx.AccountID, refund, decimal.Zero); err != nil {
				return fmt.Errorf("refund %s: %w", tx.AccountID, err)
			}
			receipt.Refunded = refund
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("withdrawal audited",
		zap.String("account_id", string(receipt.Transaction.AccountID)),
		zap.String("tx_id", string(id)),
		zap.String("decision", string(decision)),
		zap.String("refunded", receipt.Refunded.String()))
	return &receipt, nil
}

// PendingWithdrawals lists withdrawals awaiting audit, oldest first.
func (c *WithdrawalController) PendingWithdrawals(ctx context.Context) ([]ledger.Transaction, error) {
	return c.tx.store.ListTransactionsByStatus(ctx, ledger.KindWithdraw, ledger.TxPending)
}
