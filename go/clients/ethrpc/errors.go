package ethrpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
)

const revertPrefix = "execution reverted"

// classifySubmitError maps a submission failure onto the contract error taxonomy.
func classifySubmitError(method string, err error) error {
	if errors.Is(err, bind.ErrNotAuthorized) {
		return fmt.Errorf("%w: %v", contract.ErrTransactionRejected, err)
	}
	if reason, ok := revertReason(err); ok {
		return &contract.TransactionRevertedError{Reason: reason}
	}
	return fmt.Errorf("failed to submit %s: %w", methodLabel(method), err)
}

// revertReason extracts the revert reason from a node error. ok is false when err is
// not a revert.
func revertReason(err error) (reason string, ok bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, isString := dataErr.ErrorData().(string); isString {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				if unpacked, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return unpacked, true
				}
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	return strings.TrimSpace(rest), true
}
