/*
handlers.go - HTTP API handlers for the reward engine

PURPOSE:
  Exposes the reward services via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the reward package.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                      Register (optional invite_code)
    GET    /api/accounts/{id}                 Account with balance
    GET    /api/accounts/{id}/transactions    Ledger rows, oldest first
    GET    /api/accounts/{id}/tasks           Claimed tasks
    POST   /api/accounts/{id}/withdrawals     Request a withdrawal

  Offerings and tasks:
    POST   /api/offerings                     Create an offering
    GET    /api/offerings                     List offerings
    POST   /api/offerings/{id}/start          Claim one unit for an account
    POST   /api/tasks/{id}/proof              Submit proof for review

  Admin:
    POST   /api/admin/tasks/{id}/approve      Complete and pay a task
    POST   /api/admin/tasks/{id}/reject       Send a task back with a reason
    GET    /api/admin/withdrawals/pending     Withdrawals awaiting audit
    POST   /api/admin/withdrawals/{id}/audit  Settle as success or failed
    POST   /api/admin/gifts                   Gift one or all accounts
    PATCH  /api/admin/accounts/{id}/ban       Ban or unban
    GET    /api/admin/settings                Current settings
    PUT    /api/admin/settings                Replace settings
    POST   /api/admin/reconcile               Run reconciliation now
    GET    /api/admin/reconciliation/runs     Reconciliation history

ERROR HANDLING:
  Service errors map to HTTP status in writeServiceError:
  - 400: Invalid amount or input, bad referrer, insufficient balance
  - 404: Account, task, transaction or offering not found
  - 409: Invalid state transition, duplicate, sold out, already claimed
  - 503: Serialization conflict that survived retries
  - 500: Anything else

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/reward"
	"github.com/ruanggamer/reward-engine/settings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxStore
	Accounts    *reward.Accounts
	Tasks       *reward.Tasks
	Auditor     *reward.TaskAuditor
	Withdrawals *reward.WithdrawalController
	Dispatcher  *reward.Dispatcher
	Settings    *settings.Provider
	Scheduler   *ReconciliationScheduler

	logger *zap.Logger
}

// NewHandler wires every service over store. notifier may be nil.
func NewHandler(store ledger.TxStore, provider *settings.Provider, notifier reward.Notifier, runs RunStore, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	dispatcher := reward.NewDispatcher(store, provider, logger)
	return &Handler{
		Store:       store,
		Accounts:    reward.NewAccounts(store, provider, notifier, logger),
		Tasks:       reward.NewTasks(store, logger),
		Auditor:     reward.NewTaskAuditor(store, dispatcher, notifier, logger),
		Withdrawals: reward.NewWithdrawalController(store, provider, logger),
		Dispatcher:  dispatcher,
		Settings:    provider,
		Scheduler:   NewReconciliationScheduler(store, runs, logger),
		logger:      logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: formatTime(time.Now())})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.Accounts.Register(r.Context(), reward.Registration{
		Email:      req.Email,
		Phone:      req.Phone,
		Country:    req.Country,
		Currency:   req.Currency,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		writeServiceError(w, "Failed to register account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*acc))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Accounts.Get(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acc))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Accounts.Transactions(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) ListAccountTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListUserTasks(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, "Failed to list tasks", err)
		return
	}
	dtos := make([]UserTaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toUserTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.Withdrawals.RequestWithdrawal(r.Context(), reward.WithdrawalRequest{
		AccountID:   accountParam(r),
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		writeServiceError(w, "Failed to request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// OFFERING AND TASK HANDLERS
// =============================================================================

func (h *Handler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.Tasks.CreateOffering(r.Context(), reward.NewOffering{
		Name:         req.Name,
		RewardAmount: req.RewardAmount,
		Quantity:     req.Quantity,
	})
	if err != nil {
		writeServiceError(w, "Failed to create offering", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferingDTO(*o))
}

func (h *Handler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.Tasks.ListOfferings(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list offerings", err)
		return
	}
	dtos := make([]OfferingDTO, len(offerings))
	for i, o := range offerings {
		dtos[i] = toOfferingDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.Tasks.Start(r.Context(), ledger.AccountID(req.AccountID), ledger.OfferingID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to start task", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserTaskDTO(*task))
}

func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req SubmitProofRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.Auditor.SubmitProof(r.Context(), ledger.AccountID(req.AccountID), taskParam(r), req.ProofURL)
	if err != nil {
		writeServiceError(w, "Failed to submit proof", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserTaskDTO(*task))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	task, receipt, err := h.Auditor.Approve(r.Context(), taskParam(r))
	if err != nil {
		writeServiceError(w, "Failed to approve task", err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveTaskResponse{
		Task:    toUserTaskDTO(*task),
		Receipt: toReceiptDTO(*receipt),
	})
}

func (h *Handler) RejectTask(w http.ResponseWriter, r *http.Request) {
	var req RejectTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.Auditor.Reject(r.Context(), taskParam(r), req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to reject task", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserTaskDTO(*task))
}

func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Withdrawals.PendingWithdrawals(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) AuditWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req AuditWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := ledger.TransactionID(chi.URLParam(r, "id"))
	receipt, err := h.Withdrawals.AuditWithdrawal(r.Context(), id, ledger.TxStatus(req.Decision))
	if err != nil {
		writeServiceError(w, "Failed to audit withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditWithdrawalResponse{
		Transaction: toTransactionDTO(receipt.Transaction),
		Refunded:    receipt.Refunded,
	})
}

// Gift credits one account, or every account when account_id is omitted.
// A broadcast reports the partial outcome with 207 when some gifts failed.
func (h *Handler) Gift(w http.ResponseWriter, r *http.Request) {
	var req GiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.AccountID != "" {
		receipt, err := h.Dispatcher.Gift(r.Context(), ledger.AccountID(req.AccountID), req.Amount, req.Title)
		if err != nil {
			writeServiceError(w, "Failed to send gift", err)
			return
		}
		writeJSON(w, http.StatusCreated, GiftResponse{Receipts: []ReceiptDTO{toReceiptDTO(*receipt)}})
		return
	}

	receipts, err := h.Dispatcher.GiftAll(r.Context(), h.Store, req.Amount, req.Title)
	resp := GiftResponse{Receipts: make([]ReceiptDTO, len(receipts))}
	for i, rc := range receipts {
		resp.Receipts[i] = toReceiptDTO(rc)
	}
	if err != nil {
		if len(receipts) == 0 {
			writeServiceError(w, "Failed to send gifts", err)
			return
		}
		resp.Failed = err.Error()
		writeJSON(w, http.StatusMultiStatus, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SetBanned(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.Accounts.SetBanned(r.Context(), accountParam(r), req.Banned)
	if err != nil {
		writeServiceError(w, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acc))
}

// GetSettings returns the settings in their stored key/value shape.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := settings.Encode(h.Settings.Current())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode settings", err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// UpdateSettings accepts the same key/value shape, including the legacy
// value forms, validates it and persists it.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}

	s, err := settings.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}
	if err := h.Settings.Update(r.Context(), s); err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, "Invalid settings", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	h.logger.Info("settings updated")
	h.GetSettings(w, r)
}

func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	run := h.Scheduler.RunOnce(r.Context())
	status := http.StatusOK
	if run.Status == RunStatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, run)
}

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler.Runs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Scheduler.Runs.ListReconciliationRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliation runs", err)
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// =============================================================================
// HELPERS
// =============================================================================

func accountParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

func taskParam(r *http.Request) ledger.TaskID {
	return ledger.TaskID(chi.URLParam(r, "id"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps ledger sentinels to HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrSoldOut):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidReferrer),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
