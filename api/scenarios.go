/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the ledger with realistic data
  through the normal services, so every row they create obeys the same
  invariants as production traffic.

AVAILABLE SCENARIOS:
  referral-chain:    A -> B -> C -> D, with D's task waiting for approval
  withdrawal-queue:  A funded account with one pending withdrawal

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "referral-chain"}

NOTE:
  Scenarios only add data; emails are suffixed so a scenario can be loaded
  more than once. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Service wiring
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/reward"
)

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResult names the entities a scenario created.
type ScenarioResult struct {
	ScenarioID   string   `json:"scenario_id"`
	AccountIDs   []string `json:"account_ids"`
	TaskID       string   `json:"task_id,omitempty"`
	WithdrawalID string   `json:"withdrawal_id,omitempty"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "referral-chain",
		Name:        "Referral Chain",
		Description: "Four accounts invited in a line; approving D's 50,000 task pays 20/10/5% up the chain",
	},
	{
		ID:          "withdrawal-queue",
		Name:        "Withdrawal Queue",
		Description: "An account gifted 100,000 with a 60,000 withdrawal pending audit",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context, suffix string) (*ScenarioResult, error){
	"referral-chain":   (*Handler).loadReferralChainScenario,
	"withdrawal-queue": (*Handler).loadWithdrawalQueueScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	result, err := load(h, r.Context(), suffix)
	if err != nil {
		writeServiceError(w, "Failed to load scenario", err)
		return
	}
	result.ScenarioID = req.ScenarioID
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadReferralChainScenario(ctx context.Context, suffix string) (*ScenarioResult, error) {
	result := &ScenarioResult{}
	var inviter *ledger.Account
	for _, name := range []string{"alice", "budi", "citra", "dewi"} {
		reg := reward.Registration{Email: fmt.Sprintf("%s+%s@demo.local", name, suffix)}
		if inviter != nil {
			reg.InviteCode = inviter.ReferralCode
		}
		acc, err := h.Accounts.Register(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		result.AccountIDs = append(result.AccountIDs, string(acc.ID))
		inviter = acc
	}

	offering, err := h.Tasks.CreateOffering(ctx, reward.NewOffering{
		Name:         "Install and reach level 10 (" + suffix + ")",
		RewardAmount: decimal.NewFromInt(50000),
		Quantity:     100,
	})
	if err != nil {
		return nil, err
	}
	task, err := h.Tasks.Start(ctx, inviter.ID, offering.ID)
	if err != nil {
		return nil, err
	}
	task, err = h.Auditor.SubmitProof(ctx, inviter.ID, task.ID, "https://demo.local/proof/"+suffix+".png")
	if err != nil {
		return nil, err
	}
	result.TaskID = string(task.ID)
	return result, nil
}

func (h *Handler) loadWithdrawalQueueScenario(ctx context.Context, suffix string) (*ScenarioResult, error) {
	acc, err := h.Accounts.Register(ctx, reward.Registration{Email: "eko+" + suffix + "@demo.local", Phone: "+62812" + suffix})
	if err != nil {
		return nil, err
	}
	if _, err := h.Dispatcher.Gift(ctx, acc.ID, decimal.NewFromInt(100000), "Demo balance"); err != nil {
		return nil, err
	}
	tx, err := h.Withdrawals.RequestWithdrawal(ctx, reward.WithdrawalRequest{
		AccountID:   acc.ID,
		Amount:      decimal.NewFromInt(60000),
		Destination: "DANA 0812-" + suffix,
	})
	if err != nil {
		return nil, err
	}
	return &ScenarioResult{AccountIDs: []string{string(acc.ID)}, WithdrawalID: string(tx.ID)}, nil
}
