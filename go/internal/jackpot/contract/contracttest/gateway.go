// Package contracttest provides an in-memory contract.Gateway for tests.
package contracttest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
)

// Submission is a transaction the fake received.
type Submission struct {
	Method string
	Value  *big.Int
	Args   []any
	Hash   common.Hash
}

// Gateway is a scriptable fake. The zero value is not usable; call New.
type Gateway struct {
	mu   sync.Mutex
	mode contract.Mode

	state          contract.RawGameState
	transactions   []contract.RawTransaction
	acceptedToken  common.Address
	minimumDeposit *big.Int

	readErrs  map[string]error
	readCalls map[string]int
	holds     map[string][]chan struct{}

	history  map[string][]contract.EventRecord
	queryErr error

	subs   map[string]map[int]func(contract.EventRecord)
	nextID int

	submissions []Submission
	submitErr   error
	waitErr     error
	waitGate    chan struct{}
	closed      bool
}

// New returns a fake gateway in the given mode with an idle game state.
func New(mode contract.Mode) *Gateway {
	return &Gateway{
		mode: mode,
		state: contract.RawGameState{
			Progress:        big.NewInt(0),
			Pot:             big.NewInt(0),
			AnchorTimestamp: big.NewInt(0),
			Round:           big.NewInt(1),
		},
		minimumDeposit: big.NewInt(0),
		readErrs:       make(map[string]error),
		readCalls:      make(map[string]int),
		holds:          make(map[string][]chan struct{}),
		history:        make(map[string][]contract.EventRecord),
		subs:           make(map[string]map[int]func(contract.EventRecord)),
	}
}

// SetState sets the tuple returned by the game-state accessor.
func (g *Gateway) SetState(progress int64, depositors []common.Address, pot *big.Int, anchor int64, round uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = contract.RawGameState{
		Progress:        big.NewInt(progress),
		Depositors:      append([]common.Address(nil), depositors...),
		Pot:             new(big.Int).Set(pot),
		AnchorTimestamp: big.NewInt(anchor),
		Round:           new(big.Int).SetUint64(round),
	}
}

// SetTransactions sets the full transaction record array.
func (g *Gateway) SetTransactions(txs []contract.RawTransaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transactions = append([]contract.RawTransaction(nil), txs...)
}

// SetTokenPolicy sets the optional token accessors.
func (g *Gateway) SetTokenPolicy(token common.Address, minimum *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acceptedToken = token
	g.minimumDeposit = new(big.Int).Set(minimum)
}

// FailReads makes every read of method fail with err; nil clears it.
func (g *Gateway) FailReads(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.readErrs, method)
		return
	}
	g.readErrs[method] = err
}

// HoldNextRead makes the next read of method capture its value and then wait until the
// returned release func is called.
func (g *Gateway) HoldNextRead(method string) (release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.holds[method] = append(g.holds[method], ch)
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// ReadCalls returns how many times method was read.
func (g *Gateway) ReadCalls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readCalls[method]
}

// Read implements contract.Reader.
func (g *Gateway) Read(ctx context.Context, method string, out any, args ...any) error {
	g.mu.Lock()
	g.readCalls[method]++
	if err, ok := g.readErrs[method]; ok {
		g.mu.Unlock()
		return &contract.RemoteCallError{Method: method, Err: err}
	}
	var hold chan struct{}
	if q := g.holds[method]; len(q) > 0 {
		hold, g.holds[method] = q[0], q[1:]
	}
	fill, err := g.capture(method, out)
	g.mu.Unlock()
	if err != nil {
		return &contract.RemoteCallError{Method: method, Err: err}
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return &contract.RemoteCallError{Method: method, Err: ctx.Err()}
		}
	}
	fill()
	return nil
}

// capture snapshots the value to return now and defers writing it into out.
func (g *Gateway) capture(method string, out any) (func(), error) {
	switch o := out.(type) {
	case *contract.RawGameState:
		st := g.state
		st.Depositors = append([]common.Address(nil), g.state.Depositors...)
		return func() { *o = st }, nil
	case *[]contract.RawTransaction:
		txs := append([]contract.RawTransaction(nil), g.transactions...)
		return func() { *o = txs }, nil
	case *common.Address:
		token := g.acceptedToken
		return func() { *o = token }, nil
	case **big.Int:
		threshold := new(big.Int).Set(g.minimumDeposit)
		return func() { *o = threshold }, nil
	default:
		return nil, fmt.Errorf("fake gateway cannot decode %s into %T", method, out)
	}
}

// FailSubmits makes Submit fail immediately with err; nil clears it.
func (g *Gateway) FailSubmits(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

// FailConfirmations makes Wait return err; nil means success.
func (g *Gateway) FailConfirmations(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waitErr = err
}

// HoldConfirmations makes Wait block until the returned release func is called.
func (g *Gateway) HoldConfirmations() (release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.waitGate = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Submissions returns every transaction received so far.
func (g *Gateway) Submissions() []Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Submission(nil), g.submissions...)
}

// Submit implements contract.Submitter.
func (g *Gateway) Submit(ctx context.Context, method string, value *big.Int, args ...any) (contract.PendingTx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != contract.ModeSigning {
		return nil, contract.ErrReadOnly
	}
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	if value == nil {
		value = new(big.Int)
	}
	hash := common.BigToHash(big.NewInt(int64(len(g.submissions) + 1)))
	g.submissions = append(g.submissions, Submission{Method: method, Value: new(big.Int).Set(value), Args: args, Hash: hash})
	return &pendingTx{hash: hash, err: g.waitErr, gate: g.waitGate}, nil
}

type pendingTx struct {
	hash common.Hash
	err  error
	gate chan struct{}
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

func (p *pendingTx) Wait(ctx context.Context) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

// AddHistory appends historical events returned by QueryEvents.
func (g *Gateway) AddHistory(events ...contract.EventRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ev := range events {
		g.history[ev.Name] = append(g.history[ev.Name], ev)
	}
}

// FailQueries makes QueryEvents fail with err; nil clears it.
func (g *Gateway) FailQueries(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErr = err
}

// QueryEvents implements contract.EventSource.
func (g *Gateway) QueryEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]contract.EventRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, &contract.RemoteCallError{Method: "queryEvents:" + eventName, Err: g.queryErr}
	}
	var out []contract.EventRecord
	for _, ev := range g.history[eventName] {
		if ev.BlockNumber < fromBlock || (toBlock != 0 && ev.BlockNumber > toBlock) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// Subscribe implements contract.EventSource.
func (g *Gateway) Subscribe(ctx context.Context, eventName string, handler func(contract.EventRecord)) (contract.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[eventName] == nil {
		g.subs[eventName] = make(map[int]func(contract.EventRecord))
	}
	g.nextID++
	id := g.nextID
	g.subs[eventName][id] = handler
	return &subscription{gw: g, event: eventName, id: id}, nil
}

// Emit delivers ev to every live subscriber of its event name.
func (g *Gateway) Emit(ev contract.EventRecord) {
	g.mu.Lock()
	handlers := make([]func(contract.EventRecord), 0, len(g.subs[ev.Name]))
	for _, h := range g.subs[ev.Name] {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of live subscriptions for eventName.
func (g *Gateway) Subscribers(eventName string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs[eventName])
}

type subscription struct {
	gw    *Gateway
	event string
	id    int
}

func (s *subscription) Unsubscribe() {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	delete(s.gw.subs[s.event], s.id)
}

// Mode implements contract.Gateway.
func (g *Gateway) Mode() contract.Mode { return g.mode }

// Close implements contract.Gateway.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// Closed reports whether Close was called.
func (g *Gateway) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

var _ contract.Gateway = (*Gateway)(nil)
