// Package round reconciles authoritative game-state polls with a locally ticking clock.
package round

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// ErrAlreadyRunning is returned by Run when the loop is already started.
var ErrAlreadyRunning = errors.New("reconciler already running")

// Options configures a Reconciler. Zero durations take defaults.
type Options struct {
	Variant      models.Variant
	StateMethod  string
	PollInterval time.Duration
	TickInterval time.Duration
	CallTimeout  time.Duration

	Clock   clockwork.Clock
	Metrics metrics.Collector

	// OnChange is called from the reconciler goroutine on every view change.
	// It must not block.
	OnChange func(View)
}

func (o *Options) setDefaults() {
	if o.StateMethod == "" {
		o.StateMethod = "getGameState"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	o.Metrics = metrics.OrNoOp(o.Metrics)
}

// Reconciler owns the round state machine. All state changes happen on the Run
// goroutine; gateway reads run concurrently and post their results back to it.
type Reconciler struct {
	reader contract.Reader
	opts   Options

	inbox     chan any
	closing   chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	latest atomic.Pointer[View]

	// owned by Run
	m        *machine
	nextSeq  uint64
	inflight sync.WaitGroup
}

// New creates a reconciler reading game state from reader.
func New(reader contract.Reader, opts Options) *Reconciler {
	opts.setDefaults()
	r := &Reconciler{
		reader:  reader,
		opts:    opts,
		inbox:   make(chan any, 64),
		closing: make(chan struct{}),
		m:       newMachine(opts.Variant),
	}
	v := r.m.view()
	r.latest.Store(&v)
	return r
}

// Run drives the poll and tick schedules until ctx is cancelled. Pending reads are
// cancelled and awaited before it returns.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.closeOnce.Do(func() { close(r.closing) })
		r.inflight.Wait()
	}()

	log.Info().
		Dur("poll_interval", r.opts.PollInterval).
		Dur("tick_interval", r.opts.TickInterval).
		Str("timer_convention", string(r.opts.Variant.TimerConvention)).
		Msg("round reconciler started")

	pollTicker := r.opts.Clock.NewTicker(r.opts.PollInterval)
	defer pollTicker.Stop()

	var ticker clockwork.Ticker
	var tickC <-chan time.Time
	stopTicking := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
			log.Debug().Msg("round idle, local tick stopped")
		}
	}
	defer stopTicking()

	r.issuePoll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round reconciler stopped")
			return nil
		case <-pollTicker.Chan():
			r.issuePoll(ctx)
		case <-tickC:
			r.onTick(ctx)
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		}

		anchored := r.m.proj.anchored()
		switch {
		case anchored && ticker == nil:
			ticker = r.opts.Clock.NewTicker(r.opts.TickInterval)
			tickC = ticker.Chan()
			log.Debug().Msg("round anchored, local tick started")
		case !anchored && ticker != nil:
			stopTicking()
		}
	}
}

// PollNow requests an out-of-cadence poll. Requests coalesce when the inbox is full.
func (r *Reconciler) PollNow() {
	select {
	case <-r.closing:
		return
	default:
	}
	select {
	case r.inbox <- pollRequest{}:
	default:
		log.Debug().Msg("poll request coalesced, inbox full")
	}
}

// Notify forwards a push notification. It is a no-op once the reconciler has stopped.
func (r *Reconciler) Notify(n Notification) {
	r.send(notifyMsg{n: n})
}

// SetMinimumDeposit updates the threshold a deposit must meet to extend the round.
func (r *Reconciler) SetMinimumDeposit(threshold decimal.Decimal) {
	r.send(minimumMsg{min: threshold})
}

// Snapshot returns the latest published view.
func (r *Reconciler) Snapshot() View {
	return *r.latest.Load()
}

// Phase returns the current phase.
func (r *Reconciler) Phase() Phase {
	return r.latest.Load().Phase
}

// Done is closed once Run has returned.
func (r *Reconciler) Done() <-chan struct{} {
	return r.closing
}

func (r *Reconciler) send(msg any) {
	select {
	case <-r.closing:
		return
	default:
	}
	select {
	case r.inbox <- msg:
	case <-r.closing:
	}
}

func (r *Reconciler) issuePoll(ctx context.Context) {
	r.nextSeq++
	seq := r.nextSeq
	started := r.opts.Clock.Now()

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()

		gs, err := contract.ReadGameState(callCtx, r.reader, r.opts.StateMethod)
		res := pollResult{seq: seq, state: gs, err: err, elapsed: r.opts.Clock.Since(started)}
		select {
		case r.inbox <- res:
		case <-ctx.Done():
		}
	}()
}

func (r *Reconciler) handle(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case pollRequest:
		r.issuePoll(ctx)
	case pollResult:
		r.applyPollResult(msg)
	case notifyMsg:
		r.opts.Metrics.RecordNotification(msg.n.EventName())
		if d, ok := msg.n.(DepositObserved); ok {
			r.observeDeposit(d)
		}
		r.issuePoll(ctx)
	case minimumMsg:
		r.m.minDeposit = msg.min
	}
}

func (r *Reconciler) applyPollResult(res pollResult) {
	if res.err != nil {
		r.opts.Metrics.RecordPoll(metrics.PollFailed, res.elapsed)
		log.Warn().Err(res.err).Uint64("seq", res.seq).Msg("game state poll failed, keeping last snapshot")
		wasStale := r.m.stale
		r.m.pollFailed(res.seq)
		if r.m.stale != wasStale {
			r.publish()
		}
		return
	}

	prevRound, hadSnapshot := r.m.snapshot.RoundNumber, r.m.hasSnapshot
	if !r.m.applyPoll(res.seq, res.state, r.opts.Clock.Now()) {
		r.opts.Metrics.RecordPoll(metrics.PollSuperseded, res.elapsed)
		log.Debug().Uint64("seq", res.seq).Uint64("applied_seq", r.m.appliedSeq).Msg("discarding superseded poll result")
		return
	}
	r.opts.Metrics.RecordPoll(metrics.PollApplied, res.elapsed)

	if hadSnapshot && res.state.Round != prevRound {
		log.Info().
			Uint64("from_round", prevRound).
			Uint64("to_round", res.state.Round).
			Msg("round rolled over")
	}
	r.publish()
}

func (r *Reconciler) observeDeposit(d DepositObserved) {
	if !r.m.observeDeposit(d, r.opts.Clock.Now()) {
		return
	}
	r.opts.Metrics.RecordExtension()
	log.Info().
		Str("sender", d.Sender.Hex()).
		Uint64("round", d.Round).
		Int64("cap", r.m.cap()).
		Msg("deposit in extension window, round extended")
	r.publish()
}

func (r *Reconciler) onTick(ctx context.Context) {
	before := r.m.phase()
	if !r.m.tick(r.opts.Clock.Now()) {
		return
	}
	if after := r.m.phase(); after == PhaseEnded && before != PhaseEnded {
		log.Info().Uint64("round", r.m.snapshot.RoundNumber).Msg("round timer reached cap, confirming with poll")
		r.issuePoll(ctx)
	}
	r.publish()
}

func (r *Reconciler) publish() {
	v := r.m.view()
	r.latest.Store(&v)
	if r.opts.OnChange != nil {
		r.opts.OnChange(v)
	}
}
