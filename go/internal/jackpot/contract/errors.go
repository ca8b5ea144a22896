package contract

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionRejected is returned when the signer declined the transaction.
	ErrTransactionRejected = errors.New("transaction rejected by signer")
	// ErrReadOnly is returned by Submit on a read-only session.
	ErrReadOnly = errors.New("session is read-only")
)

// ConnectionError means the gateway could not be reached at all.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteCallError is a failed or undecodable state read.
type RemoteCallError struct {
	Method string
	Err    error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("call %s: %v", e.Method, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// TransactionRevertedError carries the contract's revert reason verbatim.
type TransactionRevertedError struct {
	Reason string
}

func (e *TransactionRevertedError) Error() string {
	if e.Reason == "" {
		return "transaction reverted"
	}
	return "transaction reverted: " + e.Reason
}

// EventDecodeError marks an event with a missing or mistyped argument.
type EventDecodeError struct {
	Event string
	Field string
	Err   error
}

func (e *EventDecodeError) Error() string {
	return fmt.Sprintf("decode %s.%s: %v", e.Event, e.Field, e.Err)
}

func (e *EventDecodeError) Unwrap() error { return e.Err }

// RevertReason extracts the reason of a reverted transaction, if err is one.
func RevertReason(err error) (string, bool) {
	var reverted *TransactionRevertedError
	if errors.As(err, &reverted) {
		return reverted.Reason, true
	}
	return "", false
}

func asRemoteCallError(method string, err error) error {
	var rce *RemoteCallError
	if errors.As(err, &rce) {
		return err
	}
	return &RemoteCallError{Method: method, Err: err}
}
