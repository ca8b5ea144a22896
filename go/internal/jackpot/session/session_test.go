package session_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jackpot/go/internal/jackpot/action"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract/contracttest"
	"github.com/mcdev12/jackpot/go/internal/jackpot/round"
	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
	"github.com/mcdev12/jackpot/go/internal/models"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

var eventNames = []string{"Deposit", "RoundStarted", "RoundEnded", "WinnersPaid"}

type recorder struct {
	mu      sync.Mutex
	snaps   []session.Snapshot
	changes []session.Change
}

func (r *recorder) Publish(s session.Snapshot, changed session.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	r.changes = append(r.changes, changed)
}

// matching counts publishes flagged with c whose snapshot satisfies cond.
func (r *recorder) matching(c session.Change, cond func(session.Snapshot) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i, snap := range r.snaps {
		if r.changes[i].Has(c) && cond(snap) {
			n++
		}
	}
	return n
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func tx(player common.Address, amount int64, round int64) contract.RawTransaction {
	return contract.RawTransaction{Player: player, Amount: big.NewInt(amount), Timestamp: big.NewInt(1_700_000_000), Round: big.NewInt(round)}
}

func newGateway(mode contract.Mode) *contracttest.Gateway {
	gw := contracttest.New(mode)
	gw.SetState(300, []common.Address{alice}, big.NewInt(3), 1_767_226_200, 2)
	gw.SetTransactions([]contract.RawTransaction{tx(alice, 1, 1), tx(bob, 2, 2)})
	gw.AddHistory(contract.EventRecord{
		Name:        "WinnersPaid",
		BlockNumber: 9,
		Args: map[string]any{
			"winners":         []common.Address{alice},
			"amountPerWinner": big.NewInt(1),
			"round":           big.NewInt(1),
		},
	})
	return gw
}

func startSession(t *testing.T, gw *contracttest.Gateway, opts session.Options, pubs ...session.Publisher) *session.Session {
	t.Helper()
	if opts.Variant.TimerConvention == "" {
		opts.Variant = models.DefaultVariant()
		opts.Variant.TokenPolicy.Decimals = 0
	}
	s, err := session.New(session.Deps{
		Gateway:    gw,
		Clock:      clockwork.NewFakeClock(),
		Publishers: pubs,
	}, opts)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSessionPublishesCompositeSnapshot(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	rec := &recorder{}
	s := startSession(t, gw, session.Options{}, rec)

	eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Round.Synced && len(snap.History) == 2 && snap.History[1].CurrentRound && len(snap.Payouts) == 1
	})

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, "read-only", snap.Mode)
	assert.Equal(t, uint64(2), snap.Round.State.RoundNumber)
	assert.Equal(t, []common.Address{alice}, snap.Round.State.RecentDepositors)
	require.Len(t, snap.Leaderboard, 2)
	assert.Equal(t, bob, snap.Leaderboard[0].Address)
	assert.False(t, snap.History[0].CurrentRound)
	assert.True(t, snap.History[1].CurrentRound)
	assert.Nil(t, snap.Actions)
	assert.Positive(t, rec.count())
}

func TestSessionSubscriptionsScopedToLifetime(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	s := startSession(t, gw, session.Options{})
	for _, name := range eventNames {
		assert.Equal(t, 1, gw.Subscribers(name), name)
	}
	eventually(t, func() bool { return s.Snapshot().Round.Synced })

	s.Stop()
	for _, name := range eventNames {
		assert.Equal(t, 0, gw.Subscribers(name), name)
	}

	reads := gw.ReadCalls("getGameState")
	gw.Emit(contract.EventRecord{Name: "RoundStarted", Args: map[string]any{"round": big.NewInt(3)}})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, reads, gw.ReadCalls("getGameState"))

	s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), session.ErrAlreadyStarted)
}

func TestSessionStartAfterStop(t *testing.T) {
	s, err := session.New(session.Deps{Gateway: newGateway(contract.ModeReadOnly)}, session.Options{Variant: models.DefaultVariant()})
	require.NoError(t, err)
	s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), session.ErrStopped)
}

func TestDepositNotificationPollsAndRefreshesLedger(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	s := startSession(t, gw, session.Options{})
	eventually(t, func() bool { return len(s.Snapshot().History) == 2 })
	polls := gw.ReadCalls("getGameState")

	gw.SetTransactions([]contract.RawTransaction{tx(alice, 1, 1), tx(bob, 2, 2), tx(alice, 5, 2)})
	gw.Emit(contract.EventRecord{
		Name:   "Deposit",
		TxHash: common.HexToHash("0xd1"),
		Args:   map[string]any{"player": alice, "amount": big.NewInt(5), "round": big.NewInt(2), "timestamp": big.NewInt(1)},
	})

	eventually(t, func() bool { return len(s.Snapshot().History) == 3 })
	eventually(t, func() bool { return gw.ReadCalls("getGameState") > polls })
	assert.Equal(t, alice, s.Snapshot().Leaderboard[0].Address)
}

func TestDepositExtendsByLedgerTime(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	s := startSession(t, gw, session.Options{})
	eventually(t, func() bool { return s.Snapshot().Round.Synced })

	deposit := func(hash string, ts int64) contract.EventRecord {
		return contract.EventRecord{
			Name:   "Deposit",
			TxHash: common.HexToHash(hash),
			Args:   map[string]any{"player": bob, "amount": big.NewInt(1), "round": big.NewInt(2), "timestamp": big.NewInt(ts)},
		}
	}

	// the anchor is the end timestamp; 100s before it is outside the 60s window
	polls := gw.ReadCalls("getGameState")
	gw.Emit(deposit("0xe1", 1_767_226_200-100))
	eventually(t, func() bool { return gw.ReadCalls("getGameState") > polls })
	assert.Equal(t, int64(600), s.Snapshot().Round.State.RoundDurationCap)

	gw.Emit(deposit("0xe2", 1_767_226_200-30))
	eventually(t, func() bool { return s.Snapshot().Round.State.RoundDurationCap == 603 })
}

func TestUnchangedLedgerIsNotRepublished(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	rec := &recorder{}
	s := startSession(t, gw, session.Options{}, rec)
	eventually(t, func() bool {
		h := s.Snapshot().History
		return len(h) == 2 && h[1].CurrentRound
	})

	reads := gw.ReadCalls("getAllTransactions")
	gw.Emit(contract.EventRecord{
		Name:   "Deposit",
		TxHash: common.HexToHash("0xf1"),
		Args:   map[string]any{"player": bob, "amount": big.NewInt(2), "round": big.NewInt(2), "timestamp": big.NewInt(1)},
	})
	eventually(t, func() bool { return gw.ReadCalls("getAllTransactions") > reads })

	gw.SetTransactions([]contract.RawTransaction{tx(alice, 1, 1), tx(bob, 2, 2), tx(alice, 5, 2)})
	gw.Emit(contract.EventRecord{
		Name:   "Deposit",
		TxHash: common.HexToHash("0xf2"),
		Args:   map[string]any{"player": alice, "amount": big.NewInt(5), "round": big.NewInt(2), "timestamp": big.NewInt(1)},
	})
	eventually(t, func() bool { return len(s.Snapshot().History) == 3 })

	settled := func(snap session.Snapshot) bool { return len(snap.History) == 2 && snap.History[1].CurrentRound }
	assert.Equal(t, 1, rec.matching(session.ChangeLedger, settled))
	assert.Equal(t, 1, rec.matching(session.ChangeLedger, func(snap session.Snapshot) bool { return len(snap.History) == 3 }))
	assert.Positive(t, rec.matching(session.ChangeRound, func(session.Snapshot) bool { return true }))
}

func TestPayoutNotificationRefreshesHistory(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	s := startSession(t, gw, session.Options{})
	eventually(t, func() bool { return len(s.Snapshot().Payouts) == 1 })

	paid := contract.EventRecord{
		Name:        "WinnersPaid",
		BlockNumber: 20,
		Args: map[string]any{
			"winners":         []common.Address{bob, alice},
			"amountPerWinner": big.NewInt(2),
			"round":           big.NewInt(2),
		},
	}
	gw.AddHistory(paid)
	gw.Emit(paid)

	eventually(t, func() bool { return len(s.Snapshot().Payouts) == 2 })
	assert.Equal(t, uint64(2), s.Snapshot().Payouts[0].Round)
}

func TestFailedRefreshKeepsLastGoodState(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	s := startSession(t, gw, session.Options{})
	eventually(t, func() bool { return len(s.Snapshot().History) == 2 })

	gw.FailReads("getAllTransactions", assert.AnError)
	gw.Emit(contract.EventRecord{Name: "Deposit", Args: map[string]any{}})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.Snapshot().History, 2)
}

func TestEventLedgerSource(t *testing.T) {
	gw := newGateway(contract.ModeReadOnly)
	gw.AddHistory(contract.EventRecord{
		Name:        "Deposit",
		BlockNumber: 4,
		Args:        map[string]any{"player": bob, "amount": big.NewInt(7), "round": big.NewInt(2), "timestamp": big.NewInt(1)},
	})
	s := startSession(t, gw, session.Options{LedgerSource: session.LedgerFromEvents})

	eventually(t, func() bool { return len(s.Snapshot().History) == 1 })
	assert.True(t, s.Snapshot().Leaderboard[0].AggregateDeposited.Equal(decimal.NewFromInt(7)))
	assert.Zero(t, gw.ReadCalls("getAllTransactions"))
}

func TestMinimumDepositReadFromContract(t *testing.T) {
	gw := newGateway(contract.ModeSigning)
	gw.SetTokenPolicy(common.HexToAddress("0x0000000000000000000000000000000000000fee"), big.NewInt(10))
	methods := contract.DefaultMethods()
	methods.MinimumDeposit = "minimumDeposit"
	methods.AcceptedToken = "acceptedToken"

	s := startSession(t, gw, session.Options{Methods: methods})
	eventually(t, func() bool { return s.Snapshot().Round.Phase == round.PhaseActive })

	snap := s.Snapshot()
	assert.True(t, snap.Token.MinimumDeposit.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000fee").Hex(), snap.Token.AcceptedToken)

	d, ok := s.Dispatcher()
	require.True(t, ok)
	_, err := d.Deposit(decimal.NewFromInt(5))
	assert.ErrorIs(t, err, action.ErrBelowMinimum)
}

func TestSigningSessionDispatchesActions(t *testing.T) {
	gw := newGateway(contract.ModeSigning)
	rec := &recorder{}
	s := startSession(t, gw, session.Options{}, rec)
	eventually(t, func() bool { return s.Snapshot().Round.Phase == round.PhaseActive })

	d, ok := s.Dispatcher()
	require.True(t, ok)
	polls := gw.ReadCalls("getGameState")

	ch, err := d.Deposit(decimal.NewFromInt(1))
	require.NoError(t, err)
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("deposit did not resolve")
	}

	eventually(t, func() bool { return gw.ReadCalls("getGameState") > polls })
	eventually(t, func() bool {
		st, ok := s.Snapshot().Actions[action.Deposit]
		return ok && !st.Pending && st.TxHash != ""
	})
}

func TestReadOnlySessionHasNoDispatcher(t *testing.T) {
	s, err := session.New(session.Deps{Gateway: newGateway(contract.ModeReadOnly)}, session.Options{Variant: models.DefaultVariant()})
	require.NoError(t, err)
	_, ok := s.Dispatcher()
	assert.False(t, ok)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := session.New(session.Deps{}, session.Options{Variant: models.DefaultVariant()})
	assert.Error(t, err)

	_, err = session.New(session.Deps{Gateway: newGateway(contract.ModeReadOnly)}, session.Options{})
	assert.Error(t, err, "zero variant is invalid")

	_, err = session.New(session.Deps{Gateway: newGateway(contract.ModeReadOnly)}, session.Options{
		Variant:      models.DefaultVariant(),
		LedgerSource: "subgraph",
	})
	assert.Error(t, err)
}
