// Package session wires the gateway, reconciler, aggregators and dispatcher into one
// lifecycle with explicit Start and Stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/action"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/ledger"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/jackpot/payout"
	"github.com/mcdev12/jackpot/go/internal/jackpot/round"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Ledger sources
const (
	LedgerFromContract = "contract"
	LedgerFromEvents   = "events"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
)

// Deps are the collaborators a session is built from.
type Deps struct {
	Gateway    contract.Gateway
	Clock      clockwork.Clock
	Metrics    metrics.Collector
	Publishers []Publisher
}

// Options configures a session. Zero values take defaults.
type Options struct {
	Variant models.Variant
	Methods contract.Methods
	Events  contract.Events

	LedgerSource    string
	FromBlock       uint64
	LeaderboardSize int

	PollInterval          time.Duration
	TickInterval          time.Duration
	LedgerRefreshInterval time.Duration
	CallTimeout           time.Duration
	ConfirmTimeout        time.Duration
}

func (o *Options) setDefaults() {
	if o.Methods.GameState == "" {
		o.Methods = contract.DefaultMethods()
	}
	if o.Events.Deposit == "" {
		o.Events = contract.DefaultEvents()
	}
	if o.LedgerSource == "" {
		o.LedgerSource = LedgerFromContract
	}
	if o.LeaderboardSize <= 0 {
		o.LeaderboardSize = ledger.DefaultLeaderboardSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.LedgerRefreshInterval <= 0 {
		o.LedgerRefreshInterval = o.PollInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// Session owns one connection's worth of sync state.
type Session struct {
	id   string
	gw   contract.Gateway
	opts Options

	clock      clockwork.Clock
	metrics    metrics.Collector
	publishers []Publisher

	rec  *round.Reconciler
	agg  *ledger.Aggregator
	idx  *payout.Indexer
	disp *action.Dispatcher

	inbox        chan any
	roundDirty   chan struct{}
	actionsDirty chan struct{}

	started   atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	subsMu sync.Mutex
	subs   []contract.Subscription

	latest atomic.Pointer[Snapshot]

	// owned by the loop goroutine
	view      round.View
	ledger    ledger.Ledger
	payouts   []models.PayoutRecord
	ledgerJob refreshJob
	payoutJob refreshJob
}

// New builds a session. A dispatcher is attached only for signing gateways.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Gateway == nil {
		return nil, errors.New("session requires a gateway")
	}
	if err := opts.Variant.Validate(); err != nil {
		return nil, fmt.Errorf("invalid variant: %w", err)
	}
	opts.setDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	m := metrics.OrNoOp(deps.Metrics)

	s := &Session{
		id:           uuid.New().String(),
		gw:           deps.Gateway,
		opts:         opts,
		clock:        deps.Clock,
		metrics:      m,
		publishers:   deps.Publishers,
		inbox:        make(chan any, 256),
		roundDirty:   make(chan struct{}, 1),
		actionsDirty: make(chan struct{}, 1),
		closing:      make(chan struct{}),
	}

	s.rec = round.New(deps.Gateway, round.Options{
		Variant:      opts.Variant,
		StateMethod:  opts.Methods.GameState,
		PollInterval: opts.PollInterval,
		TickInterval: opts.TickInterval,
		CallTimeout:  opts.CallTimeout,
		Clock:        deps.Clock,
		Metrics:      m,
		OnChange:     func(round.View) { wake(s.roundDirty) },
	})

	var source ledger.Source
	switch opts.LedgerSource {
	case LedgerFromContract:
		source = &ledger.ContractSource{Reader: deps.Gateway, Method: opts.Methods.Transactions, Decimals: opts.Variant.TokenPolicy.Decimals}
	case LedgerFromEvents:
		source = &ledger.EventSource{Events: deps.Gateway, EventName: opts.Events.Deposit, FromBlock: opts.FromBlock, Decimals: opts.Variant.TokenPolicy.Decimals, Metrics: m}
	default:
		return nil, fmt.Errorf("unknown ledger source %q", opts.LedgerSource)
	}
	s.agg = ledger.NewAggregator(source, opts.LeaderboardSize, deps.Clock, m)

	s.idx = payout.NewIndexer(deps.Gateway, payout.Config{
		EventName: opts.Events.Payout,
		FromBlock: opts.FromBlock,
		Shape:     opts.Variant.PayoutRecordShape,
		Decimals:  opts.Variant.TokenPolicy.Decimals,
	}, deps.Clock, m)

	if deps.Gateway.Mode() == contract.ModeSigning {
		s.disp = action.New(deps.Gateway, s.rec, action.Options{
			Variant:        opts.Variant,
			Methods:        opts.Methods,
			ConfirmTimeout: opts.ConfirmTimeout,
			Clock:          deps.Clock,
			Metrics:        m,
			OnChange:       func(action.Status) { wake(s.actionsDirty) },
		})
	}

	s.view = s.rec.Snapshot()
	snap := s.compose()
	s.latest.Store(&snap)
	return s, nil
}

// ID identifies the session in logs and published snapshots.
func (s *Session) ID() string { return s.id }

// Round returns the session's reconciler.
func (s *Session) Round() *round.Reconciler { return s.rec }

// Dispatcher returns the action dispatcher, or false for read-only sessions.
func (s *Session) Dispatcher() (*action.Dispatcher, bool) {
	return s.disp, s.disp != nil
}

// Refresh asks for an immediate game-state poll.
func (s *Session) Refresh() { s.rec.PollNow() }

// Snapshot returns the latest composite view.
func (s *Session) Snapshot() Snapshot {
	return *s.latest.Load()
}

// Start loads the token policy, subscribes to contract events and starts the
// schedules. It returns once everything is running.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	select {
	case <-s.closing:
		return ErrStopped
	default:
	}

	s.loadTokenPolicy(ctx)

	if err := s.subscribe(ctx); err != nil {
		s.releaseSubscriptions()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.rec.Run(runCtx); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("round reconciler exited")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()

	log.Info().
		Str("session_id", s.id).
		Str("mode", s.gw.Mode().String()).
		Str("ledger_source", s.opts.LedgerSource).
		Msg("session started")
	return nil
}

// Stop releases subscriptions, cancels every schedule and waits for in-flight work.
// Callbacks that fire afterwards are no-ops. Stop is idempotent.
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.releaseSubscriptions()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.disp != nil {
			s.disp.Close()
		}
		log.Info().Str("session_id", s.id).Msg("session stopped")
	})
}

func (s *Session) loadTokenPolicy(ctx context.Context) {
	decimals := s.opts.Variant.TokenPolicy.Decimals
	if method := s.opts.Methods.MinimumDeposit; method != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		base, err := contract.ReadMinimumDeposit(callCtx, s.gw, method)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("could not read minimum deposit, using configured value")
		} else {
			threshold := contract.ToDecimal(base, decimals)
			s.opts.Variant.TokenPolicy.MinimumDeposit = threshold
			s.rec.SetMinimumDeposit(threshold)
			if s.disp != nil {
				s.disp.SetMinimumDeposit(threshold)
			}
		}
	}
	if method := s.opts.Methods.AcceptedToken; method != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		token, err := contract.ReadAcceptedToken(callCtx, s.gw, method)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("could not read accepted token")
		} else {
			s.opts.Variant.TokenPolicy.AcceptedToken = token.Hex()
			log.Info().Str("token", token.Hex()).Msg("accepted token loaded")
		}
	}
}

func (s *Session) subscribe(ctx context.Context) error {
	names := []string{s.opts.Events.Deposit, s.opts.Events.RoundStarted, s.opts.Events.RoundEnded, s.opts.Events.Payout}
	for _, name := range names {
		if name == "" {
			continue
		}
		sub, err := s.gw.Subscribe(ctx, name, s.enqueueEvent)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		s.subsMu.Lock()
		s.subs = append(s.subs, sub)
		s.subsMu.Unlock()
	}
	return nil
}

func (s *Session) releaseSubscriptions() {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// enqueueEvent runs on gateway goroutines. It only enqueues.
func (s *Session) enqueueEvent(ev contract.EventRecord) {
	select {
	case <-s.closing:
		return
	default:
	}
	select {
	case s.inbox <- eventMsg{ev: ev}:
	case <-s.closing:
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
