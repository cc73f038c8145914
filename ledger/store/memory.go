// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.TxStore held in maps. Every exported method takes the
// mutex; WithTx holds it for the whole callback and restores a snapshot
// when the callback fails.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		*m.state = *snapshot
		return err
	}
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAccount(ctx, id)
}

func (m *Memory) CreateAccount(ctx context.Context, acc ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateAccount(ctx, acc)
}

func (m *Memory) FindAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindAccountByEmail(ctx, email)
}

func (m *Memory) FindAccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindAccountByReferralCode(ctx, code)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListAccounts(ctx)
}

func (m *Memory) AdjustBalance(ctx context.Context, id ledger.AccountID, balanceDelta, earningsDelta decimal.Decimal) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AdjustBalance(ctx, id, balanceDelta, earningsDelta)
}

func (m *Memory) IncrementInvitedCount(ctx context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IncrementInvitedCount(ctx, id)
}

func (m *Memory) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SetBanned(ctx, id, banned)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetTransaction(ctx, id)
}

func (m *Memory) SetTransactionStatus(ctx context.Context, id ledger.TransactionID, from, to ledger.TxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SetTransactionStatus(ctx, id, from, to)
}

func (m *Memory) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListTransactions(ctx, accountID)
}

func (m *Memory) ListTransactionsByStatus(ctx context.Context, kind ledger.Kind, status ledger.TxStatus) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListTransactionsByStatus(ctx, kind, status)
}

func (m *Memory) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.HasIdempotencyKey(ctx, key)
}

func (m *Memory) CreateOffering(ctx context.Context, o ledger.Offering) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateOffering(ctx, o)
}

func (m *Memory) GetOffering(ctx context.Context, id ledger.OfferingID) (*ledger.Offering, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetOffering(ctx, id)
}

func (m *Memory) ListOfferings(ctx context.Context) ([]ledger.Offering, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListOfferings(ctx)
}

func (m *Memory) DecrementRemaining(ctx context.Context, id ledger.OfferingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DecrementRemaining(ctx, id)
}

func (m *Memory) CreateUserTask(ctx context.Context, t ledger.UserTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateUserTask(ctx, t)
}

func (m *Memory) GetUserTask(ctx context.Context, id ledger.TaskID) (*ledger.UserTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetUserTask(ctx, id)
}

func (m *Memory) ListUserTasks(ctx context.Context, accountID ledger.AccountID) ([]ledger.UserTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListUserTasks(ctx, accountID)
}

func (m *Memory) UpdateUserTask(ctx context.Context, t ledger.UserTask, expected ledger.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateUserTask(ctx, t, expected)
}

// =============================================================================
// STATE - Unlocked maps; doubles as the WithTx view
// =============================================================================

type claimKey struct {
	AccountID  ledger.AccountID
	OfferingID ledger.OfferingID
}

type memState struct {
	accounts     map[ledger.AccountID]ledger.Account
	accountOrder []ledger.AccountID
	emails       map[string]ledger.AccountID
	codes        map[string]ledger.AccountID

	txs         []ledger.Transaction
	txIndex     map[ledger.TransactionID]int
	idempotency map[string]bool

	offerings     map[ledger.OfferingID]ledger.Offering
	offeringOrder []ledger.OfferingID
	tasks         map[ledger.TaskID]ledger.UserTask
	taskOrder     []ledger.TaskID
	claims        map[claimKey]ledger.TaskID
}

func newMemState() *memState {
	return &memState{
		accounts:    make(map[ledger.AccountID]ledger.Account),
		emails:      make(map[string]ledger.AccountID),
		codes:       make(map[string]ledger.AccountID),
		txIndex:     make(map[ledger.TransactionID]int),
		idempotency: make(map[string]bool),
		offerings:   make(map[ledger.OfferingID]ledger.Offering),
		tasks:       make(map[ledger.TaskID]ledger.UserTask),
		claims:      make(map[claimKey]ledger.TaskID),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:      cloneMap(s.accounts),
		accountOrder:  append([]ledger.AccountID(nil), s.accountOrder...),
		emails:        cloneMap(s.emails),
		codes:         cloneMap(s.codes),
		txs:           append([]ledger.Transaction(nil), s.txs...),
		txIndex:       cloneMap(s.txIndex),
		idempotency:   cloneMap(s.idempotency),
		offerings:     cloneMap(s.offerings),
		offeringOrder: append([]ledger.OfferingID(nil), s.offeringOrder...),
		tasks:         cloneMap(s.tasks),
		taskOrder:     append([]ledger.TaskID(nil), s.taskOrder...),
		claims:        cloneMap(s.claims),
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// --- accounts ---

func (s *memState) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *memState) CreateAccount(_ context.Context, acc ledger.Account) error {
	if _, ok := s.accounts[acc.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	email := strings.ToLower(acc.Email)
	if _, ok := s.emails[email]; ok && email != "" {
		return ledger.ErrAlreadyExists
	}
	if _, ok := s.codes[acc.ReferralCode]; ok && acc.ReferralCode != "" {
		return ledger.ErrAlreadyExists
	}
	s.accounts[acc.ID] = acc
	s.accountOrder = append(s.accountOrder, acc.ID)
	if email != "" {
		s.emails[email] = acc.ID
	}
	if acc.ReferralCode != "" {
		s.codes[acc.ReferralCode] = acc.ID
	}
	return nil
}

func (s *memState) FindAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *memState) FindAccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	id, ok := s.codes[code]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *memState) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(s.accountOrder))
	for _, id := range s.accountOrder {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

func (s *memState) AdjustBalance(_ context.Context, id ledger.AccountID, balanceDelta, earningsDelta decimal.Decimal) (*ledger.Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	next := acc.Balance.Add(balanceDelta)
	if next.IsNegative() {
		return nil, &ledger.InsufficientBalanceError{AccountID: id, Available: acc.Balance, Requested: balanceDelta.Neg()}
	}
	acc.Balance = next
	acc.TotalEarnings = acc.TotalEarnings.Add(earningsDelta)
	s.accounts[id] = acc
	return &acc, nil
}

func (s *memState) IncrementInvitedCount(_ context.Context, id ledger.AccountID) error {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.InvitedCount++
	s.accounts[id] = acc
	return nil
}

func (s *memState) SetBanned(_ context.Context, id ledger.AccountID, banned bool) error {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.Banned = banned
	s.accounts[id] = acc
	return nil
}

// --- transactions ---

func (s *memState) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return ledger.ErrAccountNotFound
	}
	if tx.IdempotencyKey != "" && s.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if _, ok := s.txIndex[tx.ID]; ok {
		return ledger.ErrDuplicateIdempotencyKey
	}
	s.txIndex[tx.ID] = len(s.txs)
	s.txs = append(s.txs, tx)
	if tx.IdempotencyKey != "" {
		s.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (s *memState) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	i, ok := s.txIndex[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	tx := s.txs[i]
	return &tx, nil
}

func (s *memState) SetTransactionStatus(_ context.Context, id ledger.TransactionID, from, to ledger.TxStatus) error {
	i, ok := s.txIndex[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	tx := s.txs[i]
	if tx.Kind != ledger.KindWithdraw || tx.Status != from {
		return &ledger.TransitionError{
			Entity: "transaction", ID: string(id), From: string(tx.Status), To: string(to),
		}
	}
	tx.Status = to
	s.txs[i] = tx
	return nil
}

func (s *memState) ListTransactions(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range s.txs {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memState) ListTransactionsByStatus(_ context.Context, kind ledger.Kind, status ledger.TxStatus) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range s.txs {
		if tx.Kind == kind && tx.Status == status {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memState) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	return s.idempotency[key], nil
}

// --- offerings and tasks ---

func (s *memState) CreateOffering(_ context.Context, o ledger.Offering) error {
	if _, ok := s.offerings[o.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.offerings[o.ID] = o
	s.offeringOrder = append(s.offeringOrder, o.ID)
	return nil
}

func (s *memState) GetOffering(_ context.Context, id ledger.OfferingID) (*ledger.Offering, error) {
	o, ok := s.offerings[id]
	if !ok {
		return nil, ledger.ErrOfferingNotFound
	}
	return &o, nil
}

func (s *memState) ListOfferings(_ context.Context) ([]ledger.Offering, error) {
	out := make([]ledger.Offering, 0, len(s.offeringOrder))
	for _, id := range s.offeringOrder {
		out = append(out, s.offerings[id])
	}
	return out, nil
}

func (s *memState) DecrementRemaining(_ context.Context, id ledger.OfferingID) error {
	o, ok := s.offerings[id]
	if !ok {
		return ledger.ErrOfferingNotFound
	}
	if o.RemainingQty <= 0 {
		return ledger.ErrSoldOut
	}
	o.RemainingQty--
	s.offerings[id] = o
	return nil
}

func (s *memState) CreateUserTask(_ context.Context, t ledger.UserTask) error {
	k := claimKey{AccountID: t.AccountID, OfferingID: t.OfferingID}
	if _, ok := s.claims[k]; ok {
		return ledger.ErrAlreadyClaimed
	}
	if _, ok := s.tasks[t.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.tasks[t.ID] = t
	s.taskOrder = append(s.taskOrder, t.ID)
	s.claims[k] = t.ID
	return nil
}

func (s *memState) GetUserTask(_ context.Context, id ledger.TaskID) (*ledger.UserTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, ledger.ErrTaskNotFound
	}
	return &t, nil
}

func (s *memState) ListUserTasks(_ context.Context, accountID ledger.AccountID) ([]ledger.UserTask, error) {
	var out []ledger.UserTask
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memState) UpdateUserTask(_ context.Context, t ledger.UserTask, expected ledger.TaskStatus) error {
	cur, ok := s.tasks[t.ID]
	if !ok {
		return ledger.ErrTaskNotFound
	}
	if cur.Status != expected {
		return &ledger.TransitionError{
			Entity: "task", ID: string(t.ID), From: string(cur.Status), To: string(t.Status),
		}
	}
	// Identity and claim fields are fixed at creation.
	t.AccountID = cur.AccountID
	t.OfferingID = cur.OfferingID
	t.RewardAmount = cur.RewardAmount
	s.tasks[t.ID] = t
	return nil
}
