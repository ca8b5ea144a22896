package models

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PayoutRecord is a payout reconstructed from historical payout events.
// Winners holds the full list for PayoutAggregate and a single address for PayoutPerWinner.
type PayoutRecord struct {
	Round           uint64           `json:"round"`
	Winners         []common.Address `json:"winners"`
	AmountPerWinner decimal.Decimal  `json:"amount_per_winner"`
	SourceTxHash    common.Hash      `json:"source_tx_hash"`
	BlockNumber     uint64           `json:"block_number"`
	LogIndex        uint             `json:"log_index"`
}

// Winner returns the single winner of a per-winner record.
func (p PayoutRecord) Winner() common.Address {
	if len(p.Winners) == 0 {
		return common.Address{}
	}
	return p.Winners[0]
}

// Equal reports whether both records describe the same payout.
func (p PayoutRecord) Equal(o PayoutRecord) bool {
	return p.Round == o.Round &&
		slices.Equal(p.Winners, o.Winners) &&
		p.AmountPerWinner.Equal(o.AmountPerWinner) &&
		p.SourceTxHash == o.SourceTxHash &&
		p.BlockNumber == o.BlockNumber &&
		p.LogIndex == o.LogIndex
}
