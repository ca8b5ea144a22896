package contract

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errMissingArg = errors.New("argument missing")

func (e EventRecord) arg(name string) (any, error) {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return nil, &EventDecodeError{Event: e.Name, Field: name, Err: errMissingArg}
	}
	return v, nil
}

// Address returns an address argument.
func (e EventRecord) Address(name string) (common.Address, error) {
	v, err := e.arg(name)
	if err != nil {
		return common.Address{}, err
	}
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, &EventDecodeError{Event: e.Name, Field: name, Err: fmt.Errorf("not an address: %q", a)}
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, &EventDecodeError{Event: e.Name, Field: name, Err: fmt.Errorf("unexpected type %T", v)}
	}
}

// Addresses returns an address-array argument.
func (e EventRecord) Addresses(name string) ([]common.Address, error) {
	v, err := e.arg(name)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]common.Address)
	if !ok {
		return nil, &EventDecodeError{Event: e.Name, Field: name, Err: fmt.Errorf("unexpected type %T", v)}
	}
	out := make([]common.Address, len(list))
	copy(out, list)
	return out, nil
}

// Big returns an integer argument as a big.Int.
func (e EventRecord) Big(name string) (*big.Int, error) {
	v, err := e.arg(name)
	if err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, &EventDecodeError{Event: e.Name, Field: name, Err: errMissingArg}
		}
		return new(big.Int).Set(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	case uint8:
		return big.NewInt(int64(n)), nil
	default:
		return nil, &EventDecodeError{Event: e.Name, Field: name, Err: fmt.Errorf("unexpected type %T", v)}
	}
}

// Uint64 returns an integer argument that must fit in 64 bits.
func (e EventRecord) Uint64(name string) (uint64, error) {
	n, err := e.Big(name)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, &EventDecodeError{Event: e.Name, Field: name, Err: fmt.Errorf("out of range: %s", n)}
	}
	return n.Uint64(), nil
}
