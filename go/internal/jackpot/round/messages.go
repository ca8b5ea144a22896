package round

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
)

// Notification is a push event forwarded to the reconciler. Every notification
// triggers an out-of-cadence poll.
type Notification interface {
	notification()
	EventName() string
}

// DepositObserved reports a Deposit event.
type DepositObserved struct {
	Key    contract.EventKey
	Sender common.Address
	Amount decimal.Decimal // display units
	Round  uint64
	// Timestamp is the ledger time of the deposit in unix seconds; 0 if unknown.
	Timestamp int64
}

// RoundStarted reports a new round on the contract.
type RoundStarted struct {
	Round uint64
}

// RoundEnded reports that the contract closed a round.
type RoundEnded struct {
	Round uint64
}

// PayoutObserved reports a payout event.
type PayoutObserved struct {
	Round uint64
}

func (DepositObserved) notification() {}
func (RoundStarted) notification()    {}
func (RoundEnded) notification()      {}
func (PayoutObserved) notification()  {}

func (DepositObserved) EventName() string { return "deposit" }
func (RoundStarted) EventName() string    { return "round_started" }
func (RoundEnded) EventName() string      { return "round_ended" }
func (PayoutObserved) EventName() string  { return "payout" }

// inbox messages
type (
	pollRequest struct{}

	pollResult struct {
		seq     uint64
		state   contract.GameState
		err     error
		elapsed time.Duration
	}

	notifyMsg struct {
		n Notification
	}

	minimumMsg struct {
		min decimal.Decimal
	}
)
