package ledger

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
)

// Aggregator refreshes ledger views from a Source.
type Aggregator struct {
	source  Source
	limit   int
	clock   clockwork.Clock
	metrics metrics.Collector
}

// NewAggregator creates an aggregator keeping the top limit senders.
func NewAggregator(source Source, limit int, clock clockwork.Clock, m metrics.Collector) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		source:  source,
		limit:   limit,
		clock:   clock,
		metrics: metrics.OrNoOp(m),
	}
}

// Refresh fetches the full record set and recomputes every view from scratch.
// currentRound marks history entries of the round in progress.
func (a *Aggregator) Refresh(ctx context.Context, currentRound uint64) (Ledger, error) {
	start := a.clock.Now()
	records, err := a.source.Deposits(ctx)
	a.metrics.RecordRefresh("ledger", err == nil, a.clock.Since(start))
	if err != nil {
		return Ledger{}, fmt.Errorf("failed to fetch deposit records: %w", err)
	}
	return Aggregate(records, currentRound, a.limit), nil
}
