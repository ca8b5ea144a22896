// Package ledger derives the leaderboard and transaction history from deposit records.
package ledger

import (
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/models"
)

// DefaultLeaderboardSize is how many senders the leaderboard keeps.
const DefaultLeaderboardSize = 10

// Ledger is one refresh worth of derived views.
type Ledger struct {
	History     []models.HistoryEntry     `json:"history"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	Total       decimal.Decimal           `json:"total"`
}

// Equal reports whether o holds the same history, leaderboard and total.
func (l Ledger) Equal(o Ledger) bool {
	return l.Total.Equal(o.Total) &&
		slices.EqualFunc(l.History, o.History, models.HistoryEntry.Equal) &&
		slices.EqualFunc(l.Leaderboard, o.Leaderboard, models.LeaderboardEntry.Equal)
}

// Newest returns the history newest first.
func (l Ledger) Newest() []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(l.History))
	for i, e := range l.History {
		out[len(out)-1-i] = e
	}
	return out
}

// CurrentRound returns the history entries belonging to the current round.
func (l Ledger) CurrentRound() []models.HistoryEntry {
	var out []models.HistoryEntry
	for _, e := range l.History {
		if e.CurrentRound {
			out = append(out, e)
		}
	}
	return out
}

// Aggregate computes the ledger views from records given in ledger order.
// It is pure: the same input always yields the same, identically ordered output.
func Aggregate(records []models.DepositRecord, currentRound uint64, limit int) Ledger {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}

	type total struct {
		addr      common.Address
		sum       decimal.Decimal
		firstSeen int
	}
	totals := make(map[common.Address]*total)
	order := make([]*total, 0)

	out := Ledger{
		History: make([]models.HistoryEntry, 0, len(records)),
		Total:   decimal.Zero,
	}
	for i, r := range records {
		out.History = append(out.History, models.HistoryEntry{
			Seq:           i + 1,
			DepositRecord: r,
			CurrentRound:  currentRound != 0 && r.Round == currentRound,
		})
		out.Total = out.Total.Add(r.Amount)

		t, ok := totals[r.Sender]
		if !ok {
			t = &total{addr: r.Sender, sum: decimal.Zero, firstSeen: i}
			totals[r.Sender] = t
			order = append(order, t)
		}
		t.sum = t.sum.Add(r.Amount)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if c := order[i].sum.Cmp(order[j].sum); c != 0 {
			return c > 0
		}
		return order[i].firstSeen < order[j].firstSeen
	})
	if len(order) > limit {
		order = order[:limit]
	}

	out.Leaderboard = make([]models.LeaderboardEntry, len(order))
	for i, t := range order {
		out.Leaderboard[i] = models.LeaderboardEntry{
			Rank:               i + 1,
			Address:            t.addr,
			AggregateDeposited: t.sum,
		}
	}
	return out
}
