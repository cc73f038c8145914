package reward

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
)

// DefaultAttempts bounds retries of a store transaction that failed with
// ledger.ErrConcurrencyConflict.
const DefaultAttempts = 3

var now = func() time.Time { return time.Now().UTC() }

type txRunner struct {
	store    ledger.TxStore
	logger   *zap.Logger
	attempts int
}

// run executes fn in one store transaction, retrying serialization
// conflicts. Any other error is returned after the first attempt.
func (r txRunner) run(ctx context.Context, op string, fn func(ledger.Store) error) error {
	attempts := r.attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.store.WithTx(ctx, fn)
		if err == nil || !ledger.IsRetryable(err) || attempt == attempts {
			return err
		}
		r.logger.Warn("store conflict, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}
