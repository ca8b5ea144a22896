package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RawGameState is the state accessor's output tuple. Fields are filled by output
// position, whatever the deployment names them.
type RawGameState struct {
	Progress        *big.Int
	Depositors      []common.Address
	Pot             *big.Int
	AnchorTimestamp *big.Int
	Round           *big.Int
}

// GameState is the decoded canonical game-state tuple.
// Progress is seconds left (countdown) or seconds elapsed (elapsed), per the deployment.
type GameState struct {
	Progress        int64
	Depositors      []common.Address
	Pot             *big.Int
	AnchorTimestamp int64 // end or start timestamp, 0 before the first deposit
	Round           uint64
}

// RawTransaction is one element of the full transaction record array, by component
// position.
type RawTransaction struct {
	Player    common.Address
	Amount    *big.Int
	Timestamp *big.Int
	Round     *big.Int
}

var errNilField = errors.New("missing field")

// ReadGameState reads and decodes the canonical game-state tuple.
func ReadGameState(ctx context.Context, r Reader, method string) (GameState, error) {
	var raw RawGameState
	if err := r.Read(ctx, method, &raw); err != nil {
		return GameState{}, asRemoteCallError(method, err)
	}
	if raw.Progress == nil || raw.Pot == nil || raw.AnchorTimestamp == nil || raw.Round == nil {
		return GameState{}, &RemoteCallError{Method: method, Err: errNilField}
	}
	if !raw.Progress.IsInt64() || !raw.AnchorTimestamp.IsInt64() || !raw.Round.IsUint64() {
		return GameState{}, &RemoteCallError{Method: method, Err: fmt.Errorf("value out of range")}
	}

	depositors := make([]common.Address, len(raw.Depositors))
	copy(depositors, raw.Depositors)

	return GameState{
		Progress:        raw.Progress.Int64(),
		Depositors:      depositors,
		Pot:             new(big.Int).Set(raw.Pot),
		AnchorTimestamp: raw.AnchorTimestamp.Int64(),
		Round:           raw.Round.Uint64(),
	}, nil
}

// ReadTransactions reads the full transaction record array in ledger order.
func ReadTransactions(ctx context.Context, r Reader, method string) ([]RawTransaction, error) {
	var raw []RawTransaction
	if err := r.Read(ctx, method, &raw); err != nil {
		return nil, asRemoteCallError(method, err)
	}
	for i, tx := range raw {
		if tx.Amount == nil || tx.Timestamp == nil || tx.Round == nil {
			return nil, &RemoteCallError{Method: method, Err: fmt.Errorf("record %d: %w", i, errNilField)}
		}
	}
	return raw, nil
}

// ReadAcceptedToken reads the optional accepted-token accessor.
func ReadAcceptedToken(ctx context.Context, r Reader, method string) (common.Address, error) {
	var token common.Address
	if err := r.Read(ctx, method, &token); err != nil {
		return common.Address{}, asRemoteCallError(method, err)
	}
	return token, nil
}

// ReadMinimumDeposit reads the optional minimum-deposit accessor in base units.
func ReadMinimumDeposit(ctx context.Context, r Reader, method string) (*big.Int, error) {
	var threshold *big.Int
	if err := r.Read(ctx, method, &threshold); err != nil {
		return nil, asRemoteCallError(method, err)
	}
	if threshold == nil {
		return nil, &RemoteCallError{Method: method, Err: errNilField}
	}
	return threshold, nil
}
