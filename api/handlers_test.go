/*
handlers_test.go - HTTP tests for the reward API

Tests for:
- Full task flow over HTTP (register, claim, proof, approve)
- Error status mapping
- Withdrawal request and audit
- Settings round trip and reconciliation runs
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruanggamer/reward-engine/ledger"
	memstore "github.com/ruanggamer/reward-engine/ledger/store"
	"github.com/ruanggamer/reward-engine/settings"
	"github.com/ruanggamer/reward-engine/store/sqlite"
)

type testServer struct {
	*httptest.Server
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := settings.NewProvider(store)
	require.NoError(t, provider.Load(context.Background()))

	h := NewHandler(store, provider, nil, store, nil)
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) register(t *testing.T, email, invite string) AccountDTO {
	t.Helper()
	var acc AccountDTO
	status := s.do(t, http.MethodPost, "/api/accounts", RegisterRequest{Email: email, InviteCode: invite}, &acc)
	require.Equal(t, http.StatusCreated, status)
	return acc
}

func (s *testServer) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	var acc AccountDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/accounts/"+id, nil, &acc))
	return acc.Balance
}

// =============================================================================
// TASK FLOW
// =============================================================================

func TestTaskFlow_ApprovePaysChain(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a -> b -> c -> d and an offering worth 50,000
	a := s.register(t, "a@example.com", "")
	b := s.register(t, "b@example.com", a.ReferralCode)
	c := s.register(t, "c@example.com", b.ReferralCode)
	d := s.register(t, "d@example.com", c.ReferralCode)
	require.NotNil(t, d.ReferrerID)
	assert.Equal(t, c.ID, *d.ReferrerID)

	var offering OfferingDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/offerings",
		CreateOfferingRequest{Name: "Install game", RewardAmount: decimal.NewFromInt(50000), Quantity: 5}, &offering))

	var task UserTaskDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/offerings/"+offering.ID+"/start",
		StartTaskRequest{AccountID: d.ID}, &task))
	assert.Equal(t, "ongoing", task.Status)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/proof",
		SubmitProofRequest{AccountID: d.ID, ProofURL: "https://proof.example/d.png"}, &task))
	assert.Equal(t, "reviewing", task.Status)

	// WHEN
	var approved ApproveTaskResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/tasks/"+task.ID+"/approve", nil, &approved))

	// THEN
	assert.Equal(t, "completed", approved.Task.Status)
	assert.True(t, approved.Receipt.Total.Equal(decimal.NewFromInt(67500)))
	assert.Len(t, approved.Receipt.Commissions, 3)
	assert.True(t, s.balance(t, d.ID).Equal(decimal.NewFromInt(50000)))
	assert.True(t, s.balance(t, c.ID).Equal(decimal.NewFromInt(10000)))
	assert.True(t, s.balance(t, b.ID).Equal(decimal.NewFromInt(5000)))
	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(2500)))

	// a second approval is a conflict and pays nothing
	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/admin/tasks/"+task.ID+"/approve", nil, &errResp))
	assert.Contains(t, errResp.Details, "task already completed")

	var history []TransactionDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/accounts/"+d.ID+"/transactions", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "task_reward", history[0].Kind)

	var tasks []UserTaskDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/accounts/"+d.ID+"/tasks", nil, &tasks))
	require.Len(t, tasks, 1)
	assert.NotNil(t, tasks[0].CompletedAt)
}

func TestTaskFlow_RejectAndClaimConflicts(t *testing.T) {
	s := newTestServer(t)
	acc := s.register(t, "r@example.com", "")

	var offering OfferingDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/offerings",
		CreateOfferingRequest{Name: "Survey", RewardAmount: decimal.NewFromInt(100), Quantity: 1}, &offering))

	var task UserTaskDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/offerings/"+offering.ID+"/start",
		StartTaskRequest{AccountID: acc.ID}, &task))

	// the same account cannot claim twice, and the stock is gone for others
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/offerings/"+offering.ID+"/start",
		StartTaskRequest{AccountID: acc.ID}, nil))
	other := s.register(t, "o@example.com", "")
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/offerings/"+offering.ID+"/start",
		StartTaskRequest{AccountID: other.ID}, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/proof",
		SubmitProofRequest{AccountID: acc.ID, ProofURL: "https://proof.example/1"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/admin/tasks/"+task.ID+"/reject",
		RejectTaskRequest{}, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/tasks/"+task.ID+"/reject",
		RejectTaskRequest{Reason: "wrong screenshot"}, &task))
	assert.Equal(t, "rejected", task.Status)
	assert.Equal(t, "wrong screenshot", task.RejectReason)
	assert.True(t, s.balance(t, acc.ID).IsZero())
}

// =============================================================================
// WITHDRAWALS AND GIFTS
// =============================================================================

func TestWithdrawalFlow(t *testing.T) {
	s := newTestServer(t)
	var acc AccountDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/accounts",
		RegisterRequest{Email: "w@example.com", Phone: "+62811222333"}, &acc))

	var gift GiftResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/gifts",
		GiftRequest{AccountID: acc.ID, Amount: decimal.NewFromInt(100000), Title: "Launch gift"}, &gift))
	require.Len(t, gift.Receipts, 1)
	assert.Equal(t, "admin_gift", gift.Receipts[0].Primary.Kind)

	// below the default minimum of 50,000
	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/accounts/"+acc.ID+"/withdrawals",
		WithdrawRequest{Amount: decimal.NewFromInt(1000), Destination: "BCA 99"}, &errResp))
	assert.Contains(t, errResp.Details, "minimum withdrawal")

	// a payout destination is required
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/accounts/"+acc.ID+"/withdrawals",
		WithdrawRequest{Amount: decimal.NewFromInt(60000)}, nil))

	// accounts without a bound phone cannot withdraw
	nophone := s.register(t, "nophone@example.com", "")
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/gifts",
		GiftRequest{AccountID: nophone.ID, Amount: decimal.NewFromInt(60000), Title: "x"}, nil))
	errResp = ErrorResponse{}
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/accounts/"+nophone.ID+"/withdrawals",
		WithdrawRequest{Amount: decimal.NewFromInt(60000), Destination: "BCA 1"}, &errResp))
	assert.Contains(t, errResp.Details, "phone number not bound")

	var wd TransactionDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/accounts/"+acc.ID+"/withdrawals",
		WithdrawRequest{Amount: decimal.NewFromInt(60000), Destination: "BCA 99"}, &wd))
	assert.Equal(t, "pending", wd.Status)
	assert.True(t, wd.Amount.Equal(decimal.NewFromInt(-60000)))
	assert.True(t, s.balance(t, acc.ID).Equal(decimal.NewFromInt(40000)))

	// the hold leaves too little for a second request
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/accounts/"+acc.ID+"/withdrawals",
		WithdrawRequest{Amount: decimal.NewFromInt(50000), Destination: "BCA 99"}, nil))

	var pending []TransactionDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/admin/withdrawals/pending", nil, &pending))
	require.Len(t, pending, 1)

	var audit AuditWithdrawalResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/audit",
		AuditWithdrawalRequest{Decision: "failed"}, &audit))
	assert.True(t, audit.Refunded.Equal(decimal.NewFromInt(60000)))
	assert.True(t, s.balance(t, acc.ID).Equal(decimal.NewFromInt(100000)))

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/audit",
		AuditWithdrawalRequest{Decision: "failed"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/audit",
		AuditWithdrawalRequest{Decision: "maybe"}, nil))
	assert.True(t, s.balance(t, acc.ID).Equal(decimal.NewFromInt(100000)))
}

func TestGiftAllAndBan(t *testing.T) {
	s := newTestServer(t)
	a := s.register(t, "ga@example.com", "")
	b := s.register(t, "gb@example.com", a.ReferralCode)

	var gift GiftResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/gifts",
		GiftRequest{Amount: decimal.NewFromInt(1000), Title: "Lebaran"}, &gift))
	assert.Len(t, gift.Receipts, 2)
	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(1200)))

	var banned AccountDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, "/api/admin/accounts/"+b.ID+"/ban",
		BanRequest{Banned: true}, &banned))
	assert.True(t, banned.Banned)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/api/admin/accounts/ghost/ban",
		BanRequest{Banned: true}, nil))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestRegister_Errors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "dup@example.com", "")

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/accounts", RegisterRequest{Email: "dup@example.com"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/accounts", RegisterRequest{Email: "x@example.com", InviteCode: "NOPE00"}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/accounts/ghost", nil, nil))

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/accounts", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrTaskNotFound, http.StatusNotFound},
		{&ledger.TransitionError{Entity: "task", Reason: "task already completed"}, http.StatusConflict},
		{ledger.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{ledger.ErrSoldOut, http.StatusConflict},
		{&ledger.InsufficientBalanceError{}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", ledger.ErrInvalidReferrer), http.StatusBadRequest},
		{ledger.ErrConcurrencyConflict, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// =============================================================================
// SETTINGS AND RECONCILIATION
// =============================================================================

func TestSettings_UpdatePersistsAndApplies(t *testing.T) {
	s := newTestServer(t)

	// legacy shapes are accepted
	body := map[string]any{
		"commission_rates":    []float64{0.3, 0.1},
		"min_withdraw_amount": "20000",
		"initial_balance":     map[string]any{"id": 5000},
	}
	var got map[string]json.RawMessage
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/admin/settings", body, &got))
	assert.JSONEq(t, `"20000"`, string(got["fallback_min_withdrawal"]))

	stored, err := s.store.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Contains(t, stored, "commission_rates")

	// new accounts get the welcome bonus; commissions use 30%
	a := s.register(t, "sa@example.com", "")
	b := s.register(t, "sb@example.com", a.ReferralCode)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/gifts",
		GiftRequest{AccountID: b.ID, Amount: decimal.NewFromInt(1000), Title: "x"}, nil))
	assert.True(t, s.balance(t, a.ID).Equal(decimal.NewFromInt(5300)))

	// over-paying rates are refused
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/admin/settings",
		map[string]any{"commission_rates": []float64{0.9, 0.5}}, nil))
}

func TestReconciliation_RecordsRuns(t *testing.T) {
	s := newTestServer(t)
	acc := s.register(t, "rec@example.com", "")
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/gifts",
		GiftRequest{AccountID: acc.ID, Amount: decimal.NewFromInt(10), Title: "x"}, nil))

	var run sqlite.ReconciliationRun
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/reconcile", nil, &run))
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.AccountsChecked)
	assert.Equal(t, 0, run.Discrepancies)

	var runs []sqlite.ReconciliationRun
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/admin/reconciliation/runs?limit=5", nil, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestScheduler_FlagsDrift(t *testing.T) {
	store := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, ledger.Account{ID: "drift", Email: "drift@example.com"}))
	_, err := store.AdjustBalance(ctx, "drift", decimal.NewFromInt(5), decimal.Zero)
	require.NoError(t, err)

	rs := NewReconciliationScheduler(store, nil, nil)
	run := rs.RunOnce(ctx)

	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Discrepancies)
	assert.Contains(t, run.DetailsJSON, `"account_id":"drift"`)
}

func TestScheduler_StartStop(t *testing.T) {
	rs := NewReconciliationScheduler(memstore.NewMemory(), nil, nil)
	rs.Start()
	rs.Start()
	rs.Stop()
	rs.Stop()

	rs.Enabled = false
	rs.Start()
	assert.Nil(t, rs.ticker)
}

// =============================================================================
// MISC
// =============================================================================

func TestHealthAndScenarios(t *testing.T) {
	s := newTestServer(t)

	var health HealthResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "ok", health.Status)

	var list []ScenarioDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/scenarios", nil, &list))
	assert.Len(t, list, 2)

	var result ScenarioResult
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "referral-chain"}, &result))
	require.Len(t, result.AccountIDs, 4)

	var approved ApproveTaskResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/tasks/"+result.TaskID+"/approve", nil, &approved))
	assert.True(t, s.balance(t, result.AccountIDs[0]).Equal(decimal.NewFromInt(2500)))

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "withdrawal-queue"}, &result))
	assert.NotEmpty(t, result.WithdrawalID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "nope"}, nil))

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
