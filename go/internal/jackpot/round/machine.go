package round

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// machine is the synchronous core of the reconciler. It is owned by exactly one
// goroutine and never blocks.
type machine struct {
	variant    models.Variant
	minDeposit decimal.Decimal

	snapshot    RoundState
	hasSnapshot bool
	proj        projection
	appliedSeq  uint64

	// round-scoped; reset on rollover
	extensions int64
	seen       map[contract.EventKey]struct{}

	progress     int64
	lastPolledAt time.Time
	stale        bool
}

func newMachine(v models.Variant) *machine {
	return &machine{
		variant:    v,
		minDeposit: v.TokenPolicy.MinimumDeposit,
		seen:       make(map[contract.EventKey]struct{}),
	}
}

func (m *machine) baseCap() int64 {
	return int64(m.variant.RoundDuration / time.Second)
}

func (m *machine) cap() int64 {
	return m.baseCap() + m.extensions*int64(m.variant.ExtensionIncrement/time.Second)
}

func (m *machine) window() int64 {
	return int64(m.variant.ExtensionWindow / time.Second)
}

// applyPoll replaces the snapshot with gs if seq is newer than anything applied so far.
func (m *machine) applyPoll(seq uint64, gs contract.GameState, now time.Time) bool {
	if seq <= m.appliedSeq {
		return false
	}
	m.appliedSeq = seq

	if m.hasSnapshot && gs.Round != m.snapshot.RoundNumber {
		m.resetRound()
	}

	roundCap := m.cap()
	var progress int64
	if gs.AnchorTimestamp != 0 {
		switch m.variant.TimerConvention {
		case models.TimerElapsed:
			progress = gs.Progress
		default:
			progress = roundCap - gs.Progress
		}
		progress = clamp(progress, 0, roundCap)
	}

	depositors := gs.Depositors
	if limit := m.variant.MaxWinners; limit > 0 && len(depositors) > limit {
		depositors = depositors[len(depositors)-limit:]
	}

	m.snapshot = RoundState{
		RoundNumber:      gs.Round,
		Pot:              contract.ToDecimal(gs.Pot, m.variant.TokenPolicy.Decimals),
		RecentDepositors: append([]common.Address(nil), depositors...),
		ProgressSeconds:  progress,
		RoundDurationCap: roundCap,
		Ended:            gs.AnchorTimestamp != 0 && progress >= roundCap,
	}
	m.hasSnapshot = true
	m.proj = projection{
		anchorTimestamp: gs.AnchorTimestamp,
		anchorProgress:  progress,
		lastPollTime:    now,
	}
	m.progress = progress
	m.lastPolledAt = now
	m.stale = false
	return true
}

// pollFailed keeps the last good snapshot and flags it stale.
func (m *machine) pollFailed(seq uint64) {
	if seq > m.appliedSeq {
		m.stale = true
	}
}

func (m *machine) resetRound() {
	m.extensions = 0
	m.seen = make(map[contract.EventKey]struct{})
}

// tick advances the projection to now. It reports whether the progress value changed.
func (m *machine) tick(now time.Time) bool {
	if !m.proj.anchored() {
		return false
	}
	next := m.proj.at(now, m.cap())
	if next == m.progress {
		return false
	}
	m.progress = next
	return true
}

// observeDeposit extends the cap when the deposit qualifies. Each deposit key is
// considered once per round.
func (m *machine) observeDeposit(d DepositObserved, now time.Time) bool {
	if _, dup := m.seen[d.Key]; dup {
		return false
	}
	m.seen[d.Key] = struct{}{}

	if !m.hasSnapshot || d.Round != m.snapshot.RoundNumber {
		return false
	}
	if d.Amount.LessThan(m.minDeposit) {
		return false
	}
	if !m.proj.anchored() {
		return false
	}
	m.tick(now)
	at := m.progress
	if d.Timestamp > 0 {
		at = m.progressAt(d.Timestamp)
	}
	if !m.inWindow(at) {
		return false
	}
	m.extensions++
	return true
}

// progressAt derives the round progress at ledger time ts from the polled anchor.
func (m *machine) progressAt(ts int64) int64 {
	switch m.variant.TimerConvention {
	case models.TimerElapsed:
		return ts - m.proj.anchorTimestamp
	default:
		return m.cap() - (m.proj.anchorTimestamp - ts)
	}
}

func (m *machine) inWindow(progress int64) bool {
	roundCap := m.cap()
	return m.window() > 0 && progress >= roundCap-m.window() && progress < roundCap
}

func (m *machine) phase() Phase {
	if !m.proj.anchored() {
		return PhaseIdle
	}
	roundCap := m.cap()
	switch {
	case m.progress >= roundCap:
		return PhaseEnded
	case m.window() > 0 && m.progress >= roundCap-m.window():
		return PhaseExtension
	default:
		return PhaseActive
	}
}

func (m *machine) view() View {
	state := m.snapshot.clone()
	phase := m.phase()
	roundCap := m.cap()
	state.ProgressSeconds = clamp(m.progress, 0, roundCap)
	state.RoundDurationCap = roundCap
	state.Ended = phase == PhaseEnded

	v := View{
		State:                    state,
		Phase:                    phase,
		InExtensionZone:          phase == PhaseExtension,
		EstimatedPayoutPerWinner: decimal.Zero,
		LastPolledAt:             m.lastPolledAt,
		Stale:                    m.stale,
		Synced:                   m.hasSnapshot,
	}
	if phase != PhaseIdle {
		v.SecondsRemaining = roundCap - state.ProgressSeconds
	}
	if n := len(state.RecentDepositors); n > 0 {
		winners := n
		if limit := m.variant.MaxWinners; limit > 0 && winners > limit {
			winners = limit
		}
		v.EstimatedPayoutPerWinner = state.Pot.
			Mul(m.variant.FeeMultiplier()).
			DivRound(decimal.NewFromInt(int64(winners)), m.variant.TokenPolicy.Decimals)
	}
	return v
}
