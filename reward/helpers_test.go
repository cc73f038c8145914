package reward

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ruanggamer/reward-engine/ledger"
	memstore "github.com/ruanggamer/reward-engine/ledger/store"
	"github.com/ruanggamer/reward-engine/settings"
	"github.com/ruanggamer/reward-engine/store/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// env wires every service over one store.
type env struct {
	store       ledger.TxStore
	provider    *settings.Provider
	notifier    *recordingNotifier
	dispatcher  *Dispatcher
	auditor     *TaskAuditor
	withdrawals *WithdrawalController
	accounts    *Accounts
	tasks       *Tasks
}

func newEnv(t *testing.T, store ledger.TxStore) *env {
	t.Helper()
	provider := settings.NewStaticProvider(settings.Default())
	n := &recordingNotifier{}
	disp := NewDispatcher(store, provider, nil)
	return &env{
		store:       store,
		provider:    provider,
		notifier:    n,
		dispatcher:  disp,
		auditor:     NewTaskAuditor(store, disp, n, nil),
		withdrawals: NewWithdrawalController(store, provider, nil),
		accounts:    NewAccounts(store, provider, n, nil),
		tasks:       NewTasks(store, nil),
	}
}

// forEachStore runs fn against the in-memory and the SQLite store.
func forEachStore(t *testing.T, fn func(t *testing.T, e *env)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newEnv(t, memstore.NewMemory()))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, newEnv(t, s))
	})
}

// register creates an account invited by inviter (nil for none).
func (e *env) register(t *testing.T, email string, inviter *ledger.Account) *ledger.Account {
	t.Helper()
	reg := Registration{Email: email}
	if inviter != nil {
		reg.InviteCode = inviter.ReferralCode
	}
	acc, err := e.accounts.Register(context.Background(), reg)
	require.NoError(t, err)
	return acc
}

func (e *env) balance(t *testing.T, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (e *env) rows(t *testing.T, id ledger.AccountID) []ledger.Transaction {
	t.Helper()
	txs, err := e.store.ListTransactions(context.Background(), id)
	require.NoError(t, err)
	return txs
}

// reviewingTask claims an offering for acc and submits proof.
func (e *env) reviewingTask(t *testing.T, acc *ledger.Account, reward string) *ledger.UserTask {
	t.Helper()
	ctx := context.Background()
	o, err := e.tasks.CreateOffering(ctx, NewOffering{Name: "Install game", RewardAmount: d(reward), Quantity: 10})
	require.NoError(t, err)
	task, err := e.tasks.Start(ctx, acc.ID, o.ID)
	require.NoError(t, err)
	task, err = e.auditor.SubmitProof(ctx, acc.ID, task.ID, "https://proof.example/1.png")
	require.NoError(t, err)
	return task
}

func (e *env) requireReconciled(t *testing.T) {
	t.Helper()
	report, err := ledger.Reconcile(context.Background(), e.store)
	require.NoError(t, err)
	require.Empty(t, report.Discrepancies)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Name)
	}
	return out
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// flakyStore fails the first `conflicts` WithTx calls with a serialization
// conflict and can fail referral_bonus inserts inside the transaction.
type flakyStore struct {
	ledger.TxStore
	mu              sync.Mutex
	conflicts       int
	failCommissions bool
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return ledger.ErrConcurrencyConflict
	}
	fail := f.failCommissions
	f.mu.Unlock()

	return f.TxStore.WithTx(ctx, func(st ledger.Store) error {
		if fail {
			return fn(failingCommissionView{Store: st})
		}
		return fn(st)
	})
}

type failingCommissionView struct {
	ledger.Store
}

var errDiskFull = errors.New("disk full")

func (v failingCommissionView) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	if tx.Kind == ledger.KindReferralBonus {
		return errDiskFull
	}
	return v.Store.AppendTransaction(ctx, tx)
}
