package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DepositRecord is one deposit as recorded by the contract ledger.
type DepositRecord struct {
	Sender    common.Address  `json:"sender"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
	Round     uint64          `json:"round"`
}

// LeaderboardEntry is an all-time aggregate for one sender.
type LeaderboardEntry struct {
	Rank               int             `json:"rank"`
	Address            common.Address  `json:"address"`
	AggregateDeposited decimal.Decimal `json:"aggregate_deposited"`
}

// HistoryEntry is a deposit positioned in the ledger.
type HistoryEntry struct {
	Seq int `json:"seq"` // 1-based ledger position
	DepositRecord
	CurrentRound bool `json:"current_round"`
}

// Equal reports whether both records describe the same deposit.
func (d DepositRecord) Equal(o DepositRecord) bool {
	return d.Sender == o.Sender && d.Amount.Equal(o.Amount) && d.Timestamp == o.Timestamp && d.Round == o.Round
}

func (e HistoryEntry) Equal(o HistoryEntry) bool {
	return e.Seq == o.Seq && e.CurrentRound == o.CurrentRound && e.DepositRecord.Equal(o.DepositRecord)
}

func (e LeaderboardEntry) Equal(o LeaderboardEntry) bool {
	return e.Rank == o.Rank && e.Address == o.Address && e.AggregateDeposited.Equal(o.AggregateDeposited)
}
