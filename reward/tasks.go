package reward

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
)

type NewOffering struct {
	Name         string
	RewardAmount decimal.Decimal
	Quantity     int
}

// Tasks manages offerings and task claims.
type Tasks struct {
	tx     txRunner
	logger *zap.Logger
}

func NewTasks(store ledger.TxStore, logger *zap.Logger) *Tasks {
	logger = logging.OrNop(logger)
	return &Tasks{tx: txRunner{store: store, logger: logger}, logger: logger}
}

func (t *Tasks) CreateOffering(ctx context.Context, in NewOffering) (*ledger.Offering, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: offering name is required", ledger.ErrInvalidInput)
	}
	if in.RewardAmount.IsNegative() {
		return nil, fmt.Errorf("%w: reward must not be negative", ledger.ErrInvalidAmount)
	}
	if in.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ledger.ErrInvalidInput)
	}

	o := ledger.Offering{
		ID:           ledger.NewOfferingID(),
		Name:         name,
		RewardAmount: in.RewardAmount,
		RemainingQty: in.Quantity,
		TotalQty:     in.Quantity,
		Online:       true,
		CreatedAt:    now(),
	}
	if err := t.tx.store.CreateOffering(ctx, o); err != nil {
		return nil, err
	}
	t.logger.Info("offering created", zap.String("offering_id", string(o.ID)), zap.Int("quantity", o.TotalQty))
	return &o, nil
}

func (t *Tasks) ListOfferings(ctx context.Context) ([]ledger.Offering, error) {
	return t.tx.store.ListOfferings(ctx)
}

func (t *Tasks) ListUserTasks(ctx context.Context, accountID ledger.AccountID) ([]ledger.UserTask, error) {
	if _, err := t.tx.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return t.tx.store.ListUserTasks(ctx, accountID)
}

// Start claims one unit of an offering for accountID. The reward amount is
// captured now; later offering edits do not change what the task pays.
func (t *Tasks) Start(ctx context.Context, accountID ledger.AccountID, offeringID ledger.OfferingID) (*ledger.UserTask, error) {
	var out ledger.UserTask
	err := t.tx.run(ctx, "start_task", func(st ledger.Store) error {
		acc, err := st.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Banned {
			return &ledger.TransitionError{Entity: "account", ID: string(acc.ID), Reason: "account is banned"}
		}

		o, err := st.GetOffering(ctx, offeringID)
		if err != nil {
			return err
		}
		if !o.Online {
			return &ledger.TransitionError{Entity: "offering", ID: string(o.ID), Reason: "offering is offline"}
		}

		out = ledger.UserTask{
			ID:           ledger.NewTaskID(),
			AccountID:    acc.ID,
			OfferingID:   o.ID,
			OfferingName: o.Name,
			RewardAmount: o.RewardAmount,
			Status:       ledger.TaskOngoing,
			StartedAt:    now(),
		}
		if err := st.CreateUserTask(ctx, out); err != nil {
			return err
		}
		return st.DecrementRemaining(ctx, o.ID)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("task started",
		zap.String("task_id", string(out.ID)),
		zap.String("account_id", string(out.AccountID)),
		zap.String("offering_id", string(out.OfferingID)))
	return &out, nil
}
