package ethrpc

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
)

const resubscribeBackoff = 30 * time.Second

func (c *Client) event(name string) (abi.Event, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("event %q not in contract ABI", name)
	}
	return ev, nil
}

func (c *Client) filter(ev abi.Event, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}
}

// QueryEvents implements contract.EventSource. The range is scanned in windows of at
// most MaxBlockRange blocks.
func (c *Client) QueryEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]contract.EventRecord, error) {
	method := "queryEvents:" + eventName
	ev, err := c.event(eventName)
	if err != nil {
		return nil, &contract.RemoteCallError{Method: method, Err: err}
	}
	if toBlock == 0 {
		latest, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return nil, &contract.RemoteCallError{Method: method, Err: fmt.Errorf("failed to read block number: %w", err)}
		}
		toBlock = latest
	}

	var out []contract.EventRecord
	for _, w := range blockWindows(fromBlock, toBlock, c.cfg.MaxBlockRange) {
		logs, err := c.backend.FilterLogs(ctx, c.filter(ev, w.from, w.to))
		if err != nil {
			return nil, &contract.RemoteCallError{Method: method, Err: fmt.Errorf("blocks %d-%d: %w", w.from, w.to, err)}
		}
		out = append(out, c.decodeLogs(ev, logs)...)
	}
	return out, nil
}

type window struct{ from, to uint64 }

// blockWindows splits [from, to] into consecutive windows of at most size blocks.
func blockWindows(from, to, size uint64) []window {
	if from > to {
		return nil
	}
	if size == 0 {
		return []window{{from, to}}
	}
	var out []window
	for start := from; ; start += size {
		end := start + size - 1
		if end >= to || end < start {
			out = append(out, window{start, to})
			return out
		}
		out = append(out, window{start, end})
	}
}

func (c *Client) decodeLogs(ev abi.Event, logs []types.Log) []contract.EventRecord {
	out := make([]contract.EventRecord, 0, len(logs))
	for _, l := range logs {
		rec, err := decodeLog(ev, l)
		if err != nil {
			log.Warn().Err(err).Str("event", ev.Name).Str("tx_hash", l.TxHash.Hex()).Msg("skipping undecodable log")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// decodeLog unpacks indexed topics and data into an EventRecord.
func decodeLog(ev abi.Event, l types.Log) (contract.EventRecord, error) {
	args := make(map[string]any)
	if len(l.Data) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(args, l.Data); err != nil {
			return contract.EventRecord{}, fmt.Errorf("failed to unpack data: %w", err)
		}
	}

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(l.Topics) < 1+len(indexed) {
		return contract.EventRecord{}, fmt.Errorf("expected %d topics, got %d", 1+len(indexed), len(l.Topics))
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, l.Topics[1:]); err != nil {
		return contract.EventRecord{}, fmt.Errorf("failed to parse topics: %w", err)
	}

	return contract.EventRecord{
		Name:        ev.Name,
		Args:        args,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}, nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe implements contract.EventSource. With a websocket endpoint the log stream
// is resubscribed after drops; otherwise new blocks are polled for logs.
func (c *Client) Subscribe(ctx context.Context, eventName string, handler func(contract.EventRecord)) (contract.Subscription, error) {
	method := "subscribe:" + eventName
	ev, err := c.event(eventName)
	if err != nil {
		return nil, &contract.RemoteCallError{Method: method, Err: err}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	if c.logs == nil {
		cursor, err := c.backend.BlockNumber(ctx)
		if err != nil {
			cancel()
			return nil, &contract.RemoteCallError{Method: method, Err: err}
		}
		go c.pollLogs(subCtx, ev, cursor, handler, sub.done)
		return sub, nil
	}

	q := ethereum.FilterQuery{Addresses: []common.Address{c.address}, Topics: [][]common.Hash{{ev.ID}}}
	logsCh := make(chan types.Log, 64)
	first, err := c.logs.SubscribeFilterLogs(ctx, q, logsCh)
	if err != nil {
		cancel()
		return nil, &contract.RemoteCallError{Method: method, Err: err}
	}
	stream := event.ResubscribeErr(resubscribeBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if first != nil {
			s := first
			first = nil
			return s, nil
		}
		log.Warn().Err(lastErr).Str("event", eventName).Msg("log subscription dropped, resubscribing")
		return c.logs.SubscribeFilterLogs(ctx, q, logsCh)
	})

	go func() {
		defer close(sub.done)
		defer stream.Unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			case l := <-logsCh:
				c.deliver(ev, l, handler)
			}
		}
	}()
	return sub, nil
}

func (c *Client) deliver(ev abi.Event, l types.Log, handler func(contract.EventRecord)) {
	rec, err := decodeLog(ev, l)
	if err != nil {
		log.Warn().Err(err).Str("event", ev.Name).Str("tx_hash", l.TxHash.Hex()).Msg("skipping undecodable log")
		return
	}
	handler(rec)
}

// pollLogs delivers logs from blocks after cursor on every poll interval.
func (c *Client) pollLogs(ctx context.Context, ev abi.Event, cursor uint64, handler func(contract.EventRecord), done chan struct{}) {
	defer close(done)
	ticker := c.cfg.Clock.NewTicker(c.cfg.LogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		latest, err := c.backend.BlockNumber(ctx)
		if err != nil {
			log.Warn().Err(err).Str("event", ev.Name).Msg("log poll failed")
			continue
		}
		if latest <= cursor {
			continue
		}
		for _, w := range blockWindows(cursor+1, latest, c.cfg.MaxBlockRange) {
			logs, err := c.backend.FilterLogs(ctx, c.filter(ev, w.from, w.to))
			if err != nil {
				log.Warn().Err(err).Str("event", ev.Name).Uint64("from", w.from).Msg("log poll failed")
				break
			}
			for _, l := range logs {
				c.deliver(ev, l, handler)
			}
			cursor = w.to
		}
	}
}
