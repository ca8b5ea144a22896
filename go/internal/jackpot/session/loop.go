package session

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/ledger"
	"github.com/mcdev12/jackpot/go/internal/jackpot/round"
	"github.com/mcdev12/jackpot/go/internal/models"
)

type (
	eventMsg struct {
		ev contract.EventRecord
	}

	ledgerResult struct {
		seq    uint64
		ledger ledger.Ledger
		err    error
	}

	payoutResult struct {
		seq     uint64
		records []models.PayoutRecord
		err     error
	}
)

// refreshJob tracks one kind of refresh. At most one runs at a time; requests made
// while it runs collapse into a single follow-up.
type refreshJob struct {
	issued   uint64
	applied  uint64
	inFlight bool
	again    bool
}

func (j *refreshJob) start() (uint64, bool) {
	if j.inFlight {
		j.again = true
		return 0, false
	}
	j.inFlight = true
	j.issued++
	return j.issued, true
}

// finish reports whether seq should be applied and whether a follow-up is due.
func (j *refreshJob) finish(seq uint64) (apply, again bool) {
	j.inFlight = false
	again, j.again = j.again, false
	if seq <= j.applied {
		return false, again
	}
	return true, again
}

func (s *Session) loop(ctx context.Context) {
	ledgerTicker := s.clock.NewTicker(s.opts.LedgerRefreshInterval)
	defer ledgerTicker.Stop()

	s.refreshLedger(ctx)
	s.refreshPayouts(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ledgerTicker.Chan():
			s.refreshLedger(ctx)
		case <-s.roundDirty:
			s.onRoundChange(ctx)
		case <-s.actionsDirty:
			s.publish(ChangeActions)
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		}
	}
}

func (s *Session) handle(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case eventMsg:
		s.onEvent(ctx, msg.ev)
	case ledgerResult:
		apply, again := s.ledgerJob.finish(msg.seq)
		switch {
		case msg.err != nil:
			log.Warn().Err(msg.err).Msg("ledger refresh failed, keeping last ledger")
		case apply:
			s.ledgerJob.applied = msg.seq
			if !s.ledger.Equal(msg.ledger) {
				s.ledger = msg.ledger
				s.publish(ChangeLedger)
			}
		}
		if again {
			s.refreshLedger(ctx)
		}
	case payoutResult:
		apply, again := s.payoutJob.finish(msg.seq)
		switch {
		case msg.err != nil:
			log.Warn().Err(msg.err).Msg("payout refresh failed, keeping last payout history")
		case apply:
			s.payoutJob.applied = msg.seq
			if !slices.EqualFunc(s.payouts, msg.records, models.PayoutRecord.Equal) {
				s.payouts = msg.records
				s.publish(ChangePayouts)
			}
		}
		if again {
			s.refreshPayouts(ctx)
		}
	}
}

func (s *Session) onEvent(ctx context.Context, ev contract.EventRecord) {
	if ev.Removed {
		log.Debug().Str("event", ev.Name).Str("tx_hash", ev.TxHash.Hex()).Msg("ignoring removed log")
		return
	}
	events := s.opts.Events
	switch ev.Name {
	case events.Deposit:
		rec, err := ledger.DecodeDeposit(ev, s.opts.Variant.TokenPolicy.Decimals)
		if err != nil {
			s.metrics.RecordDecodeSkip(ev.Name)
			log.Warn().Err(err).Str("tx_hash", ev.TxHash.Hex()).Msg("undecodable deposit notification")
			s.rec.PollNow()
		} else {
			s.rec.Notify(round.DepositObserved{
				Key:       ev.Key(),
				Sender:    rec.Sender,
				Amount:    rec.Amount,
				Round:     rec.Round,
				Timestamp: rec.Timestamp,
			})
		}
		s.refreshLedger(ctx)
	case events.RoundStarted:
		n, _ := ev.Uint64("round")
		s.rec.Notify(round.RoundStarted{Round: n})
	case events.RoundEnded:
		n, _ := ev.Uint64("round")
		s.rec.Notify(round.RoundEnded{Round: n})
	case events.Payout:
		n, _ := ev.Uint64("round")
		s.rec.Notify(round.PayoutObserved{Round: n})
		s.refreshPayouts(ctx)
	default:
		log.Debug().Str("event", ev.Name).Msg("ignoring unexpected event")
	}
}

func (s *Session) onRoundChange(ctx context.Context) {
	prev := s.view.State.RoundNumber
	s.view = s.rec.Snapshot()
	if s.view.Synced && s.view.State.RoundNumber != prev {
		// history rows are flagged against the current round
		s.refreshLedger(ctx)
	}
	s.publish(ChangeRound)
}

func (s *Session) refreshLedger(ctx context.Context) {
	seq, ok := s.ledgerJob.start()
	if !ok {
		return
	}
	currentRound := s.view.State.RoundNumber
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
		l, err := s.agg.Refresh(callCtx, currentRound)
		s.post(ctx, ledgerResult{seq: seq, ledger: l, err: err})
	}()
}

func (s *Session) refreshPayouts(ctx context.Context) {
	seq, ok := s.payoutJob.start()
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
		records, err := s.idx.Refresh(callCtx)
		s.post(ctx, payoutResult{seq: seq, records: records, err: err})
	}()
}

func (s *Session) post(ctx context.Context, msg any) {
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
	}
}

func (s *Session) publish(changed Change) {
	snap := s.compose()
	s.latest.Store(&snap)
	for _, p := range s.publishers {
		p.Publish(snap, changed)
	}
}

func (s *Session) compose() Snapshot {
	snap := Snapshot{
		SessionID:   s.id,
		Mode:        s.gw.Mode().String(),
		Round:       s.view,
		Leaderboard: s.ledger.Leaderboard,
		History:     s.ledger.History,
		Payouts:     s.payouts,
		Token:       s.opts.Variant.TokenPolicy,
		UpdatedAt:   s.clock.Now(),
	}
	if s.disp != nil {
		snap.Actions = s.disp.Status()
	}
	return snap
}
