// Package contract is the uniform boundary to the deployed jackpot contract: state reads,
// transaction submission, push notifications and historical event queries.
package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects what a gateway session is allowed to do.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeSigning
)

func (m Mode) String() string {
	if m == ModeSigning {
		return "signing"
	}
	return "read-only"
}

// Reader reads contract state. out must be a pointer matching the method outputs by
// position.
type Reader interface {
	Read(ctx context.Context, method string, out any, args ...any) error
}

// Submitter submits state-changing transactions. An empty method sends a plain value transfer.
type Submitter interface {
	Submit(ctx context.Context, method string, value *big.Int, args ...any) (PendingTx, error)
}

// EventSource delivers live and historical contract events.
type EventSource interface {
	// Subscribe delivers events at least once until the subscription is released.
	Subscribe(ctx context.Context, eventName string, handler func(EventRecord)) (Subscription, error)
	// QueryEvents returns events ordered by block number then log index. toBlock 0 means latest.
	QueryEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]EventRecord, error)
}

// Gateway is everything a session needs from the contract. It never retries.
type Gateway interface {
	Reader
	Submitter
	EventSource
	Mode() Mode
	Close()
}

// PendingTx is a submitted transaction awaiting confirmation.
type PendingTx interface {
	Hash() common.Hash
	// Wait blocks until the transaction is mined. It returns ErrTransactionRejected or a
	// *TransactionRevertedError when the transaction did not succeed.
	Wait(ctx context.Context) error
}

// Subscription is a live event feed.
type Subscription interface {
	Unsubscribe()
}

// EventRecord is one decoded contract log.
type EventRecord struct {
	Name        string         `json:"name"`
	Args        map[string]any `json:"args"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
	Removed     bool           `json:"removed,omitempty"`
}

// Key identifies a log across repeated deliveries.
func (e EventRecord) Key() EventKey {
	return EventKey{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// EventKey identifies a log.
type EventKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// Methods maps logical operations to contract method names.
type Methods struct {
	GameState      string `yaml:"game_state"`
	Transactions   string `yaml:"transactions"`
	AcceptedToken  string `yaml:"accepted_token"`
	MinimumDeposit string `yaml:"minimum_deposit"`
	Deposit        string `yaml:"deposit"` // empty: plain value transfer
	Settle         string `yaml:"settle"`
	StartRound     string `yaml:"start_round"`
	Distribute     string `yaml:"distribute"`
}

// DefaultMethods returns the method names of the reference deployment.
func DefaultMethods() Methods {
	return Methods{
		GameState:    "getGameState",
		Transactions: "getAllTransactions",
		Settle:       "settle",
		StartRound:   "startNewRound",
		Distribute:   "distribute",
	}
}

// Events maps logical notifications to contract event names.
type Events struct {
	Deposit      string `yaml:"deposit"`
	RoundStarted string `yaml:"round_started"`
	RoundEnded   string `yaml:"round_ended"`
	Payout       string `yaml:"payout"`
}

// DefaultEvents returns the event names of the reference deployment.
func DefaultEvents() Events {
	return Events{
		Deposit:      "Deposit",
		RoundStarted: "RoundStarted",
		RoundEnded:   "RoundEnded",
		Payout:       "WinnersPaid",
	}
}
