package reward

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
)

// =============================================================================
// TASK AUDIT STATE MACHINE
// =============================================================================
//
//   ongoing ──submit──▶ reviewing ──approve──▶ completed (terminal)
//                        │   ▲
//                  reject│   │submit
//                        ▼   │
//                       rejected
//
// Approve couples the status change and the task_reward dispatch in one
// store transaction. The status write is compare-and-set on "reviewing",
// and the payout row carries the key task:<id>:reward, so a second approval
// can never pay twice.

// TaskRewardKey is the idempotency key of a task's payout row.
func TaskRewardKey(id ledger.TaskID) string {
	return "task:" + string(id) + ":reward"
}

type TaskAuditor struct {
	tx         txRunner
	dispatcher *Dispatcher
	notifier   Notifier
	logger     *zap.Logger
}

func NewTaskAuditor(store ledger.TxStore, dispatcher *Dispatcher, notifier Notifier, logger *zap.Logger) *TaskAuditor {
	logger = logging.OrNop(logger)
	return &TaskAuditor{
		tx:         txRunner{store: store, logger: logger},
		dispatcher: dispatcher,
		notifier:   orNop(notifier),
		logger:     logger,
	}
}

// SubmitProof moves an ongoing or rejected task owned by accountID to
// reviewing, clearing any earlier reject reason.
func (a *TaskAuditor) SubmitProof(ctx context.Context, accountID ledger.AccountID, taskID ledger.TaskID, proofURL string) (*ledger.UserTask, error) {
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return nil, fmt.Errorf("%w: proof url is required", ledger.ErrInvalidInput)
	}

	var out *ledger.UserTask
	err := a.tx.run(ctx, "submit_proof", func(st ledger.Store) error {
		task, err := st.GetUserTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AccountID != accountID {
			// Other users' tasks are reported as missing.
			return ledger.ErrTaskNotFound
		}
		if task.Status != ledger.TaskOngoing && task.Status != ledger.TaskRejected {
			return transition(task, ledger.TaskReviewing)
		}

		from := task.Status
		at := now()
		task.Status = ledger.TaskReviewing
		task.ProofURL = proofURL
		task.RejectReason = ""
		task.SubmittedAt = &at
		if err := st.UpdateUserTask(ctx, *task, from); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("proof submitted", zap.String("task_id", string(taskID)), zap.String("account_id", string(accountID)))
	return out, nil
}

// Approve completes a reviewing task and pays its captured reward.
func (a *TaskAuditor) Approve(ctx context.Context, taskID ledger.TaskID) (*ledger.UserTask, *Receipt, error) {
	calc := a.dispatcher.calculator()

	var task *ledger.UserTask
	var receipt *Receipt
	failed := Grant{Kind: ledger.KindTaskReward, ReferenceID: string(taskID)}
	err := a.tx.run(ctx, "approve_task", func(st ledger.Store) error {
		t, err := st.GetUserTask(ctx, taskID)
		if err != nil {
			return err
		}
		failed.AccountID, failed.Amount = t.AccountID, t.RewardAmount
		if t.Status != ledger.TaskReviewing {
			return transition(t, ledger.TaskCompleted)
		}

		at := now()
		t.Status = ledger.TaskCompleted
		t.CompletedAt = &at
		if err := st.UpdateUserTask(ctx, *t, ledger.TaskReviewing); err != nil {
			return err
		}

		r, err := a.dispatcher.dispatchIn(ctx, st, calc, Grant{
			AccountID:      t.AccountID,
			Amount:         t.RewardAmount,
			Reason:         "Task reward: " + t.OfferingName,
			Kind:           ledger.KindTaskReward,
			IdempotencyKey: TaskRewardKey(t.ID),
			ReferenceID:    string(t.ID),
		})
		if err != nil {
			return err
		}
		task, receipt = t, r
		return nil
	})
	if err != nil {
		a.dispatcher.rolledBack(failed, err)
		return nil, nil, err
	}
	a.dispatcher.committed(receipt)

	a.notifier.Notify(Event{
		Name:        EventTaskCompleted,
		EventID:     string(receipt.Primary.ID),
		AccountID:   task.AccountID,
		Value:       task.RewardAmount,
		ContentIDs:  []string{string(task.OfferingID)},
		ContentName: task.OfferingName,
	})
	return task, receipt, nil
}

// Reject sends a reviewing task back to the user with reason. No balance
// effect.
func (a *TaskAuditor) Reject(ctx context.Context, taskID ledger.TaskID, reason string) (*ledger.UserTask, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reject reason is required", ledger.ErrInvalidInput)
	}

	var out *ledger.UserTask
	err := a.tx.run(ctx, "reject_task", func(st ledger.Store) error {
		t, err := st.GetUserTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != ledger.TaskReviewing {
			return transition(t, ledger.TaskRejected)
		}
		t.Status = ledger.TaskRejected
		t.RejectReason = reason
		if err := st.UpdateUserTask(ctx, *t, ledger.TaskReviewing); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("task rejected", zap.String("task_id", string(taskID)), zap.String("reason", reason))
	return out, nil
}

// transition builds the auditor-facing error for an illegal move.
func transition(t *ledger.UserTask, to ledger.TaskStatus) error {
	var reason string
	switch t.Status {
	case ledger.TaskCompleted:
		reason = "task already completed"
	case ledger.TaskReviewing:
		reason = "task is already under review"
	case ledger.TaskRejected:
		reason = "task was rejected and awaits resubmission"
	case ledger.TaskOngoing:
		reason = "task has no submitted proof"
	}
	return &ledger.TransitionError{
		Entity: "task", ID: string(t.ID), From: string(t.Status), To: string(to), Reason: reason,
	}
}
