// Package action submits user-initiated transactions and tracks their state.
package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/jackpot/round"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Action names a user-initiated transaction.
type Action string

const (
	Deposit       Action = "deposit"
	Settle        Action = "settle"
	StartNewRound Action = "start_new_round"
	Distribute    Action = "distribute"
)

// All lists every action in display order.
var All = []Action{Deposit, Settle, StartNewRound, Distribute}

var (
	ErrActionPending     = errors.New("action already pending")
	ErrActionUnavailable = errors.New("action not available in current round phase")
	ErrBelowMinimum      = errors.New("deposit below minimum")
	ErrInvalidAmount     = errors.New("deposit amount must be positive")
	ErrClosed            = errors.New("dispatcher closed")
)

// Outcome results recorded in metrics.
const (
	resultBlocked   = "blocked"
	resultConfirmed = "confirmed"
	resultRejected  = "rejected"
	resultReverted  = "reverted"
	resultFailed    = "failed"
)

// RoundView is what the dispatcher needs from the reconciler.
type RoundView interface {
	Snapshot() round.View
	PollNow()
}

// Status is the per-action flag set exposed to the view.
type Status struct {
	Action       Action    `json:"action"`
	Pending      bool      `json:"pending"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Error        string    `json:"error,omitempty"`
	RevertReason string    `json:"revert_reason,omitempty"`
	Rejected     bool      `json:"rejected,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Result is delivered once per dispatched action.
type Result struct {
	Action Action
	TxHash common.Hash
	Err    error
}

// Options configures a Dispatcher.
type Options struct {
	Variant        models.Variant
	Methods        contract.Methods
	ConfirmTimeout time.Duration
	Clock          clockwork.Clock
	Metrics        metrics.Collector

	// OnChange is called after every status change, outside the dispatcher lock.
	OnChange func(Status)
}

// Dispatcher submits one transaction per action and never retries.
type Dispatcher struct {
	submitter contract.Submitter
	round     RoundView
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     map[Action]Status
	minDeposit decimal.Decimal
	closed     bool
}

// New creates a dispatcher. Only signing sessions should construct one.
func New(submitter contract.Submitter, rv RoundView, opts Options) *Dispatcher {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	opts.Metrics = metrics.OrNoOp(opts.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		submitter:  submitter,
		round:      rv,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		status:     make(map[Action]Status),
		minDeposit: opts.Variant.TokenPolicy.MinimumDeposit,
	}
}

// SetMinimumDeposit replaces the configured minimum, e.g. with the contract's value.
func (d *Dispatcher) SetMinimumDeposit(threshold decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.minDeposit = threshold
}

// Deposit submits a deposit of amount display units.
func (d *Dispatcher) Deposit(amount decimal.Decimal) (<-chan Result, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	d.mu.Lock()
	threshold := d.minDeposit
	d.mu.Unlock()
	if amount.LessThan(threshold) {
		d.opts.Metrics.RecordAction(string(Deposit), resultBlocked)
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, threshold)
	}
	erc20 := d.opts.Variant.TokenPolicy.Kind == models.TokenERC20
	if erc20 && d.opts.Methods.Deposit == "" {
		return nil, fmt.Errorf("%w: token deposits need a deposit method", ErrActionUnavailable)
	}

	base := contract.FromDecimal(amount, d.opts.Variant.TokenPolicy.Decimals)
	return d.dispatch(Deposit, func(ctx context.Context) (contract.PendingTx, error) {
		if erc20 {
			return d.submitter.Submit(ctx, d.opts.Methods.Deposit, nil, base)
		}
		return d.submitter.Submit(ctx, d.opts.Methods.Deposit, base)
	})
}

// Settle submits the settle transaction for an ended round.
func (d *Dispatcher) Settle() (<-chan Result, error) {
	return d.simple(Settle, d.opts.Methods.Settle)
}

// StartNewRound submits the start-round transaction.
func (d *Dispatcher) StartNewRound() (<-chan Result, error) {
	return d.simple(StartNewRound, d.opts.Methods.StartRound)
}

// Distribute submits the distribute transaction.
func (d *Dispatcher) Distribute() (<-chan Result, error) {
	return d.simple(Distribute, d.opts.Methods.Distribute)
}

func (d *Dispatcher) simple(a Action, method string) (<-chan Result, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: %s is not supported by this contract", ErrActionUnavailable, a)
	}
	return d.dispatch(a, func(ctx context.Context) (contract.PendingTx, error) {
		return d.submitter.Submit(ctx, method, nil)
	})
}

// Available reports whether a could be dispatched right now.
func (d *Dispatcher) Available(a Action) bool {
	if d.gate(a) != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.status[a].Pending
}

// Status returns the status of every action that has been dispatched.
func (d *Dispatcher) Status() map[Action]Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Action]Status, len(d.status))
	for a, s := range d.status {
		out[a] = s
	}
	return out
}

// Close cancels outstanding confirmations and waits for them to resolve.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) gate(a Action) error {
	v := d.round.Snapshot()
	switch a {
	case Deposit:
		switch v.Phase {
		case round.PhaseActive, round.PhaseExtension:
			return nil
		case round.PhaseIdle:
			if v.Synced && d.opts.Variant.DepositOpensRound {
				return nil
			}
		case round.PhaseEnded:
			if d.opts.Variant.DepositSettlesExpired {
				return nil
			}
		}
	default:
		if v.Phase == round.PhaseEnded {
			return nil
		}
	}
	return fmt.Errorf("%w: %s during %s", ErrActionUnavailable, a, v.Phase)
}

func (d *Dispatcher) dispatch(a Action, submit func(context.Context) (contract.PendingTx, error)) (<-chan Result, error) {
	if err := d.gate(a); err != nil {
		d.opts.Metrics.RecordAction(string(a), resultBlocked)
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if d.status[a].Pending {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActionPending, a)
	}
	st := Status{Action: a, Pending: true, UpdatedAt: d.opts.Clock.Now()}
	d.status[a] = st
	d.wg.Add(1)
	d.mu.Unlock()
	d.notify(st)

	log.Info().Str("action", string(a)).Msg("submitting transaction")

	results := make(chan Result, 1)
	go func() {
		defer d.wg.Done()
		defer close(results)

		ctx, cancel := context.WithTimeout(d.ctx, d.opts.ConfirmTimeout)
		defer cancel()

		var hash common.Hash
		pending, err := submit(ctx)
		if err == nil {
			hash = pending.Hash()
			d.update(a, func(s *Status) { s.TxHash = hash.Hex() })
			err = pending.Wait(ctx)
		}
		d.resolve(a, hash, err)
		results <- Result{Action: a, TxHash: hash, Err: err}
	}()
	return results, nil
}

func (d *Dispatcher) resolve(a Action, hash common.Hash, err error) {
	if err == nil {
		d.opts.Metrics.RecordAction(string(a), resultConfirmed)
		log.Info().Str("action", string(a)).Str("tx_hash", hash.Hex()).Msg("transaction confirmed")
		d.update(a, func(s *Status) {
			s.Pending = false
			s.Error, s.RevertReason, s.Rejected = "", "", false
		})
		d.round.PollNow()
		return
	}

	reason, reverted := contract.RevertReason(err)
	rejected := errors.Is(err, contract.ErrTransactionRejected)
	switch {
	case rejected:
		d.opts.Metrics.RecordAction(string(a), resultRejected)
	case reverted:
		d.opts.Metrics.RecordAction(string(a), resultReverted)
	default:
		d.opts.Metrics.RecordAction(string(a), resultFailed)
	}
	log.Warn().Err(err).Str("action", string(a)).Msg("transaction failed")

	d.update(a, func(s *Status) {
		s.Pending = false
		s.Error = err.Error()
		s.RevertReason = reason
		s.Rejected = rejected
	})
}

func (d *Dispatcher) update(a Action, fn func(*Status)) {
	d.mu.Lock()
	s := d.status[a]
	fn(&s)
	s.UpdatedAt = d.opts.Clock.Now()
	d.status[a] = s
	d.mu.Unlock()
	d.notify(s)
}

func (d *Dispatcher) notify(s Status) {
	if d.opts.OnChange != nil {
		d.opts.OnChange(s)
	}
}
