package reward

import (
	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
)

const (
	EventCompleteRegistration = "CompleteRegistration"
	EventTaskCompleted        = "TaskCompleted"
)

// Event is a best-effort telemetry notification emitted after a commit.
type Event struct {
	Name        string
	EventID     string
	AccountID   ledger.AccountID
	Email       string
	Value       decimal.Decimal
	Currency    string
	ContentIDs  []string
	ContentName string
}

// Notifier receives events after the ledger change is committed.
// Implementations must not block and must not report failure; the ledger
// never waits for or rolls back because of them.
type Notifier interface {
	Notify(ev Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

func orNop(n Notifier) Notifier {
	if n == nil {
		return NopNotifier{}
	}
	return n
}
