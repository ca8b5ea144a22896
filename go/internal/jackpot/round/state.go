package round

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Phase is the reconciler's view of where the current round is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseExtension
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseActive:
		return "ACTIVE"
	case PhaseExtension:
		return "EXTENSION"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RoundState is the authoritative snapshot of one round.
// It is rebuilt from every applied poll and never patched in place.
type RoundState struct {
	RoundNumber      uint64           `json:"round_number"`
	Pot              decimal.Decimal  `json:"pot"`
	RecentDepositors []common.Address `json:"recent_depositors"`
	ProgressSeconds  int64            `json:"progress_seconds"`
	RoundDurationCap int64            `json:"round_duration_cap"`
	Ended            bool             `json:"ended"`
}

func (s RoundState) clone() RoundState {
	s.RecentDepositors = append([]common.Address(nil), s.RecentDepositors...)
	return s
}

// projection is the locally ticked estimate between two polls.
type projection struct {
	anchorTimestamp int64
	anchorProgress  int64
	lastPollTime    time.Time
}

func (p projection) anchored() bool {
	return p.anchorTimestamp != 0
}

// at returns the projected progress at now, clamped to [0, cap].
func (p projection) at(now time.Time, roundCap int64) int64 {
	delta := int64(now.Sub(p.lastPollTime) / time.Second)
	if delta < 0 {
		delta = 0
	}
	return clamp(p.anchorProgress+delta, 0, roundCap)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// View is what the reconciler publishes to consumers.
type View struct {
	State                    RoundState      `json:"state"`
	Phase                    Phase           `json:"phase"`
	InExtensionZone          bool            `json:"in_extension_zone"`
	SecondsRemaining         int64           `json:"seconds_remaining"`
	EstimatedPayoutPerWinner decimal.Decimal `json:"estimated_payout_per_winner"`
	LastPolledAt             time.Time       `json:"last_polled_at"`
	Stale                    bool            `json:"stale"`
	Synced                   bool            `json:"synced"`
}
