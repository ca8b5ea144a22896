package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Source fetches the full deposit record set in ledger order.
type Source interface {
	Deposits(ctx context.Context) ([]models.DepositRecord, error)
}

// ContractSource reads the contract's transaction record array.
type ContractSource struct {
	Reader   contract.Reader
	Method   string
	Decimals int32
}

func (s *ContractSource) Deposits(ctx context.Context) ([]models.DepositRecord, error) {
	raw, err := contract.ReadTransactions(ctx, s.Reader, s.Method)
	if err != nil {
		return nil, err
	}
	out := make([]models.DepositRecord, 0, len(raw))
	for i, tx := range raw {
		if !tx.Timestamp.IsInt64() || !tx.Round.IsUint64() {
			return nil, &contract.RemoteCallError{Method: s.Method, Err: fmt.Errorf("record %d out of range", i)}
		}
		out = append(out, models.DepositRecord{
			Sender:    tx.Player,
			Amount:    contract.ToDecimal(tx.Amount, s.Decimals),
			Timestamp: tx.Timestamp.Int64(),
			Round:     tx.Round.Uint64(),
		})
	}
	return out, nil
}

// EventSource rebuilds the record set from historical deposit events, for
// deployments without a transaction array accessor.
type EventSource struct {
	Events    contract.EventSource
	EventName string
	FromBlock uint64
	Decimals  int32
	Metrics   metrics.Collector
}

func (s *EventSource) Deposits(ctx context.Context) ([]models.DepositRecord, error) {
	events, err := s.Events.QueryEvents(ctx, s.EventName, s.FromBlock, 0)
	if err != nil {
		return nil, err
	}
	m := metrics.OrNoOp(s.Metrics)

	out := make([]models.DepositRecord, 0, len(events))
	for _, ev := range events {
		rec, err := DecodeDeposit(ev, s.Decimals)
		if err != nil {
			m.RecordDecodeSkip(ev.Name)
			log.Warn().Err(err).
				Str("tx_hash", ev.TxHash.Hex()).
				Uint64("block", ev.BlockNumber).
				Msg("skipping malformed deposit event")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeDeposit maps a Deposit event to a record.
func DecodeDeposit(ev contract.EventRecord, decimals int32) (models.DepositRecord, error) {
	player, err := ev.Address("player")
	if err != nil {
		return models.DepositRecord{}, err
	}
	amount, err := ev.Big("amount")
	if err != nil {
		return models.DepositRecord{}, err
	}
	round, err := ev.Uint64("round")
	if err != nil {
		return models.DepositRecord{}, err
	}
	ts, err := ev.Uint64("timestamp")
	if err != nil {
		return models.DepositRecord{}, err
	}
	return models.DepositRecord{
		Sender:    player,
		Amount:    contract.ToDecimal(amount, decimals),
		Timestamp: int64(ts),
		Round:     round,
	}, nil
}
