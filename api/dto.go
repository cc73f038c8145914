/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines request/response structures for the REST API. DTOs decouple
  the API contract from the ledger types.

MONEY:
  Amounts are shopspring decimals. Responses encode them as JSON strings
  ("50000.00" style, no float rounding); requests accept numbers or strings.

SEE ALSO:
  - handlers.go: Uses these DTOs
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/reward"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

type RegisterRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Country    string `json:"country,omitempty"`
	Currency   string `json:"currency,omitempty"`
	InviteCode string `json:"invite_code,omitempty"`
}

type CreateOfferingRequest struct {
	Name         string          `json:"name"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	Quantity     int             `json:"quantity"`
}

type StartTaskRequest struct {
	AccountID string `json:"account_id"`
}

type SubmitProofRequest struct {
	AccountID string `json:"account_id"`
	ProofURL  string `json:"proof_url"`
}

type RejectTaskRequest struct {
	Reason string `json:"reason"`
}

type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination,omitempty"`
}

type AuditWithdrawalRequest struct {
	Decision string `json:"decision"` // "success" or "failed"
}

// GiftRequest gifts one account, or every account when AccountID is empty.
type GiftRequest struct {
	AccountID string          `json:"account_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Title     string          `json:"title"`
}

type BanRequest struct {
	Banned bool `json:"banned"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

type AccountDTO struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone,omitempty"`
	Country       string          `json:"country"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	ReferrerID    *string         `json:"referrer_id,omitempty"`
	ReferralCode  string          `json:"referral_code"`
	InvitedCount  int             `json:"invited_count"`
	Banned        bool            `json:"banned"`
	CreatedAt     string          `json:"created_at"`
}

type TransactionDTO struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type OfferingDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	RemainingQty int             `json:"remaining_qty"`
	TotalQty     int             `json:"total_qty"`
	Online       bool            `json:"online"`
	CreatedAt    string          `json:"created_at"`
}

type UserTaskDTO struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	OfferingID   string          `json:"offering_id"`
	OfferingName string          `json:"offering_name"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	Status       string          `json:"status"`
	ProofURL     string          `json:"proof_url,omitempty"`
	RejectReason string          `json:"reject_reason,omitempty"`
	StartedAt    string          `json:"started_at"`
	SubmittedAt  *string         `json:"submitted_at,omitempty"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
}

// ReceiptDTO is the outcome of a dispatch: the primary row plus commissions.
type ReceiptDTO struct {
	Primary     TransactionDTO   `json:"primary"`
	Commissions []TransactionDTO `json:"commissions"`
	Total       decimal.Decimal  `json:"total"`
}

type ApproveTaskResponse struct {
	Task    UserTaskDTO `json:"task"`
	Receipt ReceiptDTO  `json:"receipt"`
}

type AuditWithdrawalResponse struct {
	Transaction TransactionDTO  `json:"transaction"`
	Refunded    decimal.Decimal `json:"refunded"`
}

type GiftResponse struct {
	Receipts []ReceiptDTO `json:"receipts"`
	Failed   string       `json:"failed,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toAccountDTO(a ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:            string(a.ID),
		Email:         a.Email,
		Phone:         a.Phone,
		Country:       a.Country,
		Currency:      a.Currency,
		Balance:       a.Balance,
		TotalEarnings: a.TotalEarnings,
		ReferralCode:  a.ReferralCode,
		InvitedCount:  a.InvitedCount,
		Banned:        a.Banned,
		CreatedAt:     formatTime(a.CreatedAt),
	}
	if a.ReferrerID != nil {
		ref := string(*a.ReferrerID)
		dto.ReferrerID = &ref
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		AccountID:   string(tx.AccountID),
		Kind:        string(tx.Kind),
		Amount:      tx.Amount,
		Description: tx.Description,
		Status:      string(tx.Status),
		ReferenceID: tx.ReferenceID,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

func toOfferingDTO(o ledger.Offering) OfferingDTO {
	return OfferingDTO{
		ID:           string(o.ID),
		Name:         o.Name,
		RewardAmount: o.RewardAmount,
		RemainingQty: o.RemainingQty,
		TotalQty:     o.TotalQty,
		Online:       o.Online,
		CreatedAt:    formatTime(o.CreatedAt),
	}
}

func toUserTaskDTO(t ledger.UserTask) UserTaskDTO {
	return UserTaskDTO{
		ID:           string(t.ID),
		AccountID:    string(t.AccountID),
		OfferingID:   string(t.OfferingID),
		OfferingName: t.OfferingName,
		RewardAmount: t.RewardAmount,
		Status:       string(t.Status),
		ProofURL:     t.ProofURL,
		RejectReason: t.RejectReason,
		StartedAt:    formatTime(t.StartedAt),
		SubmittedAt:  formatTimePtr(t.SubmittedAt),
		CompletedAt:  formatTimePtr(t.CompletedAt),
	}
}

func toReceiptDTO(r reward.Receipt) ReceiptDTO {
	return ReceiptDTO{
		Primary:     toTransactionDTO(r.Primary),
		Commissions: toTransactionDTOs(r.Commissions),
		Total:       r.Total(),
	}
}
