/*
reconcile.go - Balance vs. ledger consistency check

PURPOSE:
  The stored balance of an account must equal the sum of its transaction
  amounts that count toward the balance:

    balance == Σ amount(status = success) + Σ amount(withdraw, status = pending)

  Pending withdrawal holds count because their debit is applied at request
  time. Failed withdrawals do not count; their refund restores the balance.

  Reconcile reads every account and reports any mismatch. It never repairs
  anything; corrections are an operator decision.

SEE ALSO:
  - ../api/scheduler.go: Periodic reconciliation runs
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Discrepancy struct {
	AccountID AccountID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Expected  decimal.Decimal `json:"expected"`
	Diff      decimal.Decimal `json:"diff"`
}

type ReconcileReport struct {
	AccountsChecked int           `json:"accounts_checked"`
	Discrepancies   []Discrepancy `json:"discrepancies"`
	CheckedAt       time.Time     `json:"checked_at"`
}

func (r ReconcileReport) Clean() bool { return len(r.Discrepancies) == 0 }

// ExpectedBalance sums the rows that count toward the balance.
func ExpectedBalance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Status == TxSuccess || tx.IsHold() {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum
}

// Reconcile checks every account. Run it against a WithTx view for a
// consistent snapshot.
func Reconcile(ctx context.Context, store Store) (*ReconcileReport, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	report := &ReconcileReport{CheckedAt: time.Now().UTC(), Discrepancies: []Discrepancy{}}
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txs, err := store.ListTransactions(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("list transactions for %s: %w", acc.ID, err)
		}
		report.AccountsChecked++

		expected := ExpectedBalance(txs)
		if !acc.Balance.Equal(expected) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				AccountID: acc.ID,
				Balance:   acc.Balance,
				Expected:  expected,
				Diff:      acc.Balance.Sub(expected),
			})
		}
	}
	return report, nil
}
