// Package payout reconstructs payout history from historical payout events.
package payout

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Config configures an Indexer.
type Config struct {
	EventName string
	FromBlock uint64
	ToBlock   uint64 // 0 means latest
	Shape     models.PayoutShape
	Decimals  int32
}

// Indexer scans the payout event range and rebuilds sorted payout records.
type Indexer struct {
	events  contract.EventSource
	cfg     Config
	clock   clockwork.Clock
	metrics metrics.Collector
}

// NewIndexer creates an indexer over events.
func NewIndexer(events contract.EventSource, cfg Config, clock clockwork.Clock, m metrics.Collector) *Indexer {
	if cfg.EventName == "" {
		cfg.EventName = "WinnersPaid"
	}
	if cfg.Shape == "" {
		cfg.Shape = models.PayoutAggregate
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Indexer{events: events, cfg: cfg, clock: clock, metrics: metrics.OrNoOp(m)}
}

// Refresh queries the full range and returns records sorted by round descending.
// Malformed events are skipped with a warning.
func (ix *Indexer) Refresh(ctx context.Context) ([]models.PayoutRecord, error) {
	start := ix.clock.Now()
	events, err := ix.events.QueryEvents(ctx, ix.cfg.EventName, ix.cfg.FromBlock, ix.cfg.ToBlock)
	ix.metrics.RecordRefresh("payout", err == nil, ix.clock.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s events: %w", ix.cfg.EventName, err)
	}

	records := make([]models.PayoutRecord, 0, len(events))
	for _, ev := range events {
		if ev.Removed {
			continue
		}
		rec, err := Decode(ev, ix.cfg.Decimals)
		if err != nil {
			ix.metrics.RecordDecodeSkip(ev.Name)
			log.Warn().Err(err).
				Str("tx_hash", ev.TxHash.Hex()).
				Uint64("block", ev.BlockNumber).
				Msg("skipping malformed payout event")
			continue
		}
		records = append(records, Expand(rec, ix.cfg.Shape)...)
	}
	Sort(records)
	return records, nil
}

// Decode maps one payout event to an aggregate record.
func Decode(ev contract.EventRecord, decimals int32) (models.PayoutRecord, error) {
	winners, err := ev.Addresses("winners")
	if err != nil {
		return models.PayoutRecord{}, err
	}
	amount, err := ev.Big("amountPerWinner")
	if err != nil {
		return models.PayoutRecord{}, err
	}
	round, err := ev.Uint64("round")
	if err != nil {
		return models.PayoutRecord{}, err
	}
	return models.PayoutRecord{
		Round:           round,
		Winners:         winners,
		AmountPerWinner: contract.ToDecimal(amount, decimals),
		SourceTxHash:    ev.TxHash,
		BlockNumber:     ev.BlockNumber,
		LogIndex:        ev.LogIndex,
	}, nil
}

// Expand applies the record shape to an aggregate record.
func Expand(rec models.PayoutRecord, shape models.PayoutShape) []models.PayoutRecord {
	if shape != models.PayoutPerWinner {
		return []models.PayoutRecord{rec}
	}
	out := make([]models.PayoutRecord, 0, len(rec.Winners))
	for _, w := range rec.Winners {
		r := rec
		r.Winners = []common.Address{w}
		out = append(out, r)
	}
	return out
}

// Sort orders records by round descending, keeping event order within a round.
func Sort(records []models.PayoutRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Round > records[j].Round
	})
}
