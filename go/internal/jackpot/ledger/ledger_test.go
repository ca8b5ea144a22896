package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract/contracttest"
	"github.com/mcdev12/jackpot/go/internal/jackpot/ledger"
	"github.com/mcdev12/jackpot/go/internal/models"
)

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func rec(sender common.Address, amount string, round uint64) models.DepositRecord {
	return models.DepositRecord{Sender: sender, Amount: decimal.RequireFromString(amount), Round: round}
}

func board(l ledger.Ledger) []string {
	out := make([]string, len(l.Leaderboard))
	for i, e := range l.Leaderboard {
		out[i] = strings.ToLower(e.Address.Hex()[40:]) + ":" + e.AggregateDeposited.String()
	}
	return out
}

func TestAggregateLeaderboard(t *testing.T) {
	tests := []struct {
		name    string
		records []models.DepositRecord
		limit   int
		want    []string
	}{
		{
			name:    "sums by sender",
			records: []models.DepositRecord{rec(addrA, "1.0", 1), rec(addrB, "2.0", 1), rec(addrA, "0.5", 1)},
			want:    []string{"0b:2", "0a:1.5"},
		},
		{
			name:    "ties keep first-seen order",
			records: []models.DepositRecord{rec(addrC, "1", 1), rec(addrA, "1", 1), rec(addrB, "0.5", 2), rec(addrB, "0.5", 2)},
			want:    []string{"0c:1", "0a:1", "0b:1"},
		},
		{
			name:    "truncates to limit",
			records: []models.DepositRecord{rec(addrA, "1", 1), rec(addrB, "3", 1), rec(addrC, "2", 1)},
			limit:   2,
			want:    []string{"0b:3", "0c:2"},
		},
		{
			name: "empty",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ledger.Aggregate(tt.records, 1, tt.limit)
			assert.Equal(t, tt.want, board(l))
			for i, e := range l.Leaderboard {
				assert.Equal(t, i+1, e.Rank)
			}
		})
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	records := []models.DepositRecord{
		rec(addrA, "1", 1), rec(addrB, "1", 1), rec(addrC, "1", 2), rec(addrB, "0.25", 2), rec(addrA, "0.25", 2),
	}
	first := ledger.Aggregate(records, 2, 10)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, ledger.Aggregate(records, 2, 10))
	}
}

func TestAggregateHistory(t *testing.T) {
	records := []models.DepositRecord{rec(addrA, "1", 1), rec(addrB, "2", 2), rec(addrC, "3", 2)}
	l := ledger.Aggregate(records, 2, 10)

	require.Len(t, l.History, 3)
	for i, e := range l.History {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, records[i], e.DepositRecord)
	}
	assert.False(t, l.History[0].CurrentRound)
	assert.True(t, l.History[1].CurrentRound)
	assert.Len(t, l.CurrentRound(), 2)
	assert.True(t, l.Total.Equal(decimal.NewFromInt(6)))

	newest := l.Newest()
	assert.Equal(t, 3, newest[0].Seq)
	assert.Equal(t, 1, newest[2].Seq)
}

func TestContractSource(t *testing.T) {
	gw := contracttest.New(contract.ModeReadOnly)
	half, _ := new(big.Int).SetString("500000000000000000", 10)
	gw.SetTransactions([]contract.RawTransaction{
		{Player: addrA, Amount: half, Timestamp: big.NewInt(1_700_000_000), Round: big.NewInt(1)},
		{Player: addrB, Amount: big.NewInt(0), Timestamp: big.NewInt(1_700_000_100), Round: big.NewInt(2)},
	})

	agg := ledger.NewAggregator(&ledger.ContractSource{Reader: gw, Method: "getAllTransactions", Decimals: 18}, 10, nil, nil)
	l, err := agg.Refresh(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, l.History, 2)
	assert.True(t, l.History[0].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(1_700_000_100), l.History[1].Timestamp)
	assert.Equal(t, []string{"0a:0.5", "0b:0"}, board(l))
}

func TestRefreshFailureIsReported(t *testing.T) {
	gw := contracttest.New(contract.ModeReadOnly)
	gw.FailReads("getAllTransactions", errors.New("timeout"))

	agg := ledger.NewAggregator(&ledger.ContractSource{Reader: gw, Method: "getAllTransactions", Decimals: 18}, 10, nil, nil)
	_, err := agg.Refresh(context.Background(), 1)

	var rce *contract.RemoteCallError
	require.ErrorAs(t, err, &rce)
}

func TestEventSourceSkipsMalformed(t *testing.T) {
	gw := contracttest.New(contract.ModeReadOnly)
	gw.AddHistory(
		contract.EventRecord{Name: "Deposit", BlockNumber: 12, Args: map[string]any{
			"player": addrB, "amount": big.NewInt(2), "round": big.NewInt(1), "timestamp": big.NewInt(20),
		}},
		contract.EventRecord{Name: "Deposit", BlockNumber: 10, Args: map[string]any{
			"player": addrA, "amount": big.NewInt(1), "round": big.NewInt(1), "timestamp": big.NewInt(10),
		}},
		contract.EventRecord{Name: "Deposit", BlockNumber: 11, Args: map[string]any{
			"player": addrC, "round": big.NewInt(1), "timestamp": big.NewInt(15),
		}},
	)

	src := &ledger.EventSource{Events: gw, EventName: "Deposit", Decimals: 0}
	records, err := src.Deposits(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, addrA, records[0].Sender)
	assert.Equal(t, addrB, records[1].Sender)
}
