package session

import (
	"time"

	"github.com/mcdev12/jackpot/go/internal/jackpot/action"
	"github.com/mcdev12/jackpot/go/internal/jackpot/round"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Snapshot is the composite view published to consumers.
type Snapshot struct {
	SessionID   string                          `json:"session_id"`
	Mode        string                          `json:"mode"`
	Round       round.View                      `json:"round"`
	Leaderboard []models.LeaderboardEntry       `json:"leaderboard"`
	History     []models.HistoryEntry           `json:"history"`
	Payouts     []models.PayoutRecord           `json:"payouts"`
	Actions     map[action.Action]action.Status `json:"actions,omitempty"`
	Token       models.TokenPolicy              `json:"token"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// Change marks which parts of a snapshot differ from the previous publish.
type Change uint8

const (
	ChangeRound Change = 1 << iota
	ChangeLedger
	ChangePayouts
	ChangeActions

	ChangeAll = ChangeRound | ChangeLedger | ChangePayouts | ChangeActions
)

// Has reports whether any of the bits in o are set.
func (c Change) Has(o Change) bool { return c&o != 0 }

// RoundUpdate is the part of a snapshot that moves on every tick.
type RoundUpdate struct {
	SessionID string                          `json:"session_id"`
	Round     round.View                      `json:"round"`
	Actions   map[action.Action]action.Status `json:"actions,omitempty"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// RoundUpdate returns the round and action parts of s.
func (s Snapshot) RoundUpdate() RoundUpdate {
	return RoundUpdate{SessionID: s.SessionID, Round: s.Round, Actions: s.Actions, UpdatedAt: s.UpdatedAt}
}

// Publisher receives every published snapshot with the parts that changed.
// Publish must not block.
type Publisher interface {
	Publish(snap Snapshot, changed Change)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Snapshot, Change)

func (f PublisherFunc) Publish(s Snapshot, changed Change) { f(s, changed) }
