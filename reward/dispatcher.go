/*
Package reward implements the reward services: dispatch with referral
commission fan-out, the task audit state machine, withdrawals, account
registration and task claims.

DISPATCH (dispatcher.go):
  One dispatch is one store transaction:

    1. credit the earner's balance and total_earnings
    2. append a success transaction of the grant's kind
    3. resolve up to 3 referrers
    4. credit each commission share and append a referral_bonus row

  The primary credit is written before any commission. If any step fails
  the store rolls back every step and the failure is logged as a
  reconciliation event. No partial fan-out is ever committed.

  Only the task audit state machine pays task_reward. Dispatch rejects the
  kind through its public entry point.

INVARIANTS:
  - Balances change only through ledger.AccountStore.AdjustBalance
  - Every balance change has a matching transaction row in the same commit
  - A grant's idempotency key is recorded once; a replay fails with
    ledger.ErrDuplicateIdempotencyKey and pays nothing

SEE ALSO:
  - audit.go: Task audit state machine
  - withdrawal.go: Withdrawal request and audit
  - ../commission/commission.go: Share calculation
*/
package reward

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/commission"
	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/monitoring"
	"github.com/ruanggamer/reward-engine/settings"
)

// Grant is a request to credit an account.
type Grant struct {
	AccountID      ledger.AccountID
	Amount         decimal.Decimal
	Reason         string
	Kind           ledger.Kind
	IdempotencyKey string // optional
	ReferenceID    string // optional
}

// Receipt lists every row committed by one dispatch.
type Receipt struct {
	Primary     ledger.Transaction
	Commissions []ledger.Transaction
}

// Total is the sum credited across all accounts.
func (r Receipt) Total() decimal.Decimal {
	total := r.Primary.Amount
	for _, c := range r.Commissions {
		total = total.Add(c.Amount)
	}
	return total
}

type Dispatcher struct {
	tx       txRunner
	settings *settings.Provider
	logger   *zap.Logger
}

func NewDispatcher(store ledger.TxStore, provider *settings.Provider, logger *zap.Logger) *Dispatcher {
	logger = logging.OrNop(logger)
	if provider == nil {
		provider = settings.NewProvider(nil)
	}
	return &Dispatcher{
		tx:       txRunner{store: store, logger: logger},
		settings: provider,
		logger:   logger,
	}
}

// Dispatch credits g.AccountID and fans out referral commissions atomically.
func (d *Dispatcher) Dispatch(ctx context.Context, g Grant) (*Receipt, error) {
	switch g.Kind {
	case ledger.KindAdminGift, ledger.KindSystemBonus, ledger.KindVIPBonus:
	case ledger.KindTaskReward:
		return nil, fmt.Errorf("%w: task rewards are paid only by task approval", ledger.ErrInvalidState)
	default:
		return nil, fmt.Errorf("%w: kind %q cannot be dispatched", ledger.ErrInvalidState, g.Kind)
	}

	calc := d.calculator()
	var receipt *Receipt
	err := d.tx.run(ctx, "dispatch", func(st ledger.Store) error {
		r, err := d.dispatchIn(ctx, st, calc, g)
		receipt = r
		return err
	})
	if err != nil {
		d.rolledBack(g, err)
		return nil, err
	}
	d.committed(receipt)
	return receipt, nil
}

// calculator resolves the commission rates once per operation.
func (d *Dispatcher) calculator() *commission.Calculator {
	return commission.NewCalculator(d.settings.Current().Rates())
}

// dispatchIn performs steps 1-4 against an open store transaction.
func (d *Dispatcher) dispatchIn(ctx context.Context, st ledger.Store, calc *commission.Calculator, g Grant) (*Receipt, error) {
	if g.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, g.Amount)
	}
	if g.IdempotencyKey != "" {
		seen, err := st.HasIdempotencyKey(ctx, g.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateIdempotencyKey, g.IdempotencyKey)
		}
	}

	earner, err := st.AdjustBalance(ctx, g.AccountID, g.Amount, g.Amount)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", g.AccountID, err)
	}
	primary := ledger.Transaction{
		ID:             ledger.NewTransactionID(),
		AccountID:      g.AccountID,
		Kind:           g.Kind,
		Amount:         g.Amount,
		Description:    g.Reason,
		Status:         ledger.TxSuccess,
		IdempotencyKey: g.IdempotencyKey,
		ReferenceID:    g.ReferenceID,
		CreatedAt:      now(),
	}
	if err := st.AppendTransaction(ctx, primary); err != nil {
		return nil, fmt.Errorf("record %s: %w", g.Kind, err)
	}

	receipt := &Receipt{Primary: primary}
	if !g.Amount.IsPositive() {
		return receipt, nil
	}

	chain, err := ledger.ReferrerChain(ctx, st, g.AccountID, ledger.CommissionDepth)
	if err != nil {
		return nil, fmt.Errorf("resolve referrers of %s: %w", g.AccountID, err)
	}

	for _, share := range calc.Calculate(g.Amount, chain) {
		if _, err := st.AdjustBalance(ctx, share.Beneficiary, share.Amount, share.Amount); err != nil {
			return nil, fmt.Errorf("credit level %d commission to %s: %w", share.Level, share.Beneficiary, err)
		}
		tx := ledger.Transaction{
			ID:          ledger.NewTransactionID(),
			AccountID:   share.Beneficiary,
			Kind:        ledger.KindReferralBonus,
			Amount:      share.Amount,
			Description: fmt.Sprintf("Level %d commission from %s", share.Level, earner.Label()),
			Status:      ledger.TxSuccess,
			ReferenceID: string(primary.ID),
			CreatedAt:   now(),
		}
		if g.IdempotencyKey != "" {
			tx.IdempotencyKey = g.IdempotencyKey + ":L" + strconv.Itoa(share.Level)
		}
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("record level %d commission: %w", share.Level, err)
		}
		receipt.Commissions = append(receipt.Commissions, tx)
	}
	return receipt, nil
}

func (d *Dispatcher) committed(r *Receipt) {
	monitoring.DispatchTotal.WithLabelValues(string(r.Primary.Kind)).Inc()
	for i, c := range r.Commissions {
		monitoring.CommissionTotal.WithLabelValues(strconv.Itoa(i + 1)).Inc()
		d.logger.Info("commission credited",
			zap.String("account_id", string(c.AccountID)),
			zap.String("kind", string(c.Kind)),
			zap.String("amount", c.Amount.String()),
			zap.String("source_tx", c.ReferenceID))
	}
	d.logger.Info("reward dispatched",
		zap.String("account_id", string(r.Primary.AccountID)),
		zap.String("kind", string(r.Primary.Kind)),
		zap.String("amount", r.Primary.Amount.String()),
		zap.Int("commissions", len(r.Commissions)))
}

// rolledBack logs a failed dispatch. Client errors are expected and logged
// quietly; anything else is a reconciliation event for operators.
func (d *Dispatcher) rolledBack(g Grant, err error) {
	fields := []zap.Field{
		zap.String("account_id", string(g.AccountID)),
		zap.String("kind", string(g.Kind)),
		zap.String("amount", g.Amount.String()),
		zap.Error(err),
	}
	if g.ReferenceID != "" {
		fields = append(fields, zap.String("reference_id", g.ReferenceID))
	}
	if ledger.IsClientError(err) || ledger.IsNotFound(err) {
		d.logger.Info("dispatch rejected", fields...)
		return
	}
	monitoring.DispatchFailures.Inc()
	d.logger.Error("dispatch rolled back", append(fields, zap.String("event", "reconciliation"))...)
}

// =============================================================================
// ADMIN GIFTS
// =============================================================================

// Gift credits one account with an admin_gift titled title. Commissions fan
// out like any other reward.
func (d *Dispatcher) Gift(ctx context.Context, accountID ledger.AccountID, amount decimal.Decimal, title string) (*Receipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: gift must be positive", ledger.ErrInvalidAmount)
	}
	return d.Dispatch(ctx, Grant{
		AccountID: accountID,
		Amount:    amount,
		Reason:    title,
		Kind:      ledger.KindAdminGift,
	})
}

// GiftAll gifts every account. Each account is its own dispatch keyed by a
// batch id, so one failure does not undo the others; failures are joined.
func (d *Dispatcher) GiftAll(ctx context.Context, accounts ledger.AccountStore, amount decimal.Decimal, title string) ([]Receipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: gift must be positive", ledger.ErrInvalidAmount)
	}
	all, err := accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	batch := uuid.NewString()
	var receipts []Receipt
	var errs []error
	for _, acc := range all {
		r, err := d.Dispatch(ctx, Grant{
			AccountID:      acc.ID,
			Amount:         amount,
			Reason:         title,
			Kind:           ledger.KindAdminGift,
			IdempotencyKey: "gift:" + batch + ":" + string(acc.ID),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("gift %s: %w", acc.ID, err))
			continue
		}
		receipts = append(receipts, *r)
	}
	return receipts, errors.Join(errs...)
}
