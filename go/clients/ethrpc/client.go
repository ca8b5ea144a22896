// Package ethrpc implements contract.Gateway over go-ethereum's JSON-RPC client.
package ethrpc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
)

//go:embed jackpot.abi.json
var defaultABI []byte

// Config holds connection settings for one contract.
type Config struct {
	RPCURL   string
	WSURL    string // optional; without it subscriptions poll for logs
	Contract common.Address
	ChainID  *big.Int // required for signing; verified against the node when set
	// PrivateKey is the hex-encoded signing key.
	PrivateKey string
	// ABIPath overrides the embedded contract ABI.
	ABIPath string

	MaxBlockRange   uint64
	LogPollInterval time.Duration
	Clock           clockwork.Clock
}

func (c *Config) setDefaults() {
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 10_000
	}
	if c.LogPollInterval <= 0 {
		c.LogPollInterval = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// backend is the subset of *ethclient.Client the gateway uses.
type backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// logBackend streams logs. It is the websocket client when one is configured.
type logBackend interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Client is a contract.Gateway bound to one deployed contract.
type Client struct {
	cfg     Config
	mode    contract.Mode
	abi     abi.ABI
	address common.Address

	backend backend
	logs    logBackend // nil: poll FilterLogs instead
	closers []func()

	bound *bind.BoundContract
	opts  *bind.TransactOpts
	from  common.Address

	// serializes nonce assignment
	submitMu sync.Mutex

	closeOnce sync.Once
}

// LoadABI parses the ABI at path, or the embedded jackpot ABI when path is empty.
func LoadABI(path string) (abi.ABI, error) {
	data := defaultABI
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to read ABI: %w", err)
		}
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// Dial connects to the node and binds the contract. Any failure is a
// *contract.ConnectionError.
func Dial(ctx context.Context, cfg Config, mode contract.Mode) (*Client, error) {
	cfg.setDefaults()

	parsed, err := LoadABI(cfg.ABIPath)
	if err != nil {
		return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: err}
	}

	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: err}
	}
	c, err := newClient(ctx, cfg, mode, parsed, rpcClient)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	if cfg.WSURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			c.Close()
			return nil, &contract.ConnectionError{Endpoint: cfg.WSURL, Err: err}
		}
		c.logs = wsClient
		c.closers = append(c.closers, wsClient.Close)
	}

	log.Info().
		Str("contract", cfg.Contract.Hex()).
		Str("mode", mode.String()).
		Bool("websocket", c.logs != nil).
		Msg("contract gateway connected")
	return c, nil
}

func newClient(ctx context.Context, cfg Config, mode contract.Mode, parsed abi.ABI, b backend) (*Client, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: fmt.Errorf("failed to read chain id: %w", err)}
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 && cfg.ChainID.Cmp(chainID) != 0 {
		return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: fmt.Errorf("chain id mismatch: node reports %s, configured %s", chainID, cfg.ChainID)}
	}

	c := &Client{
		cfg:     cfg,
		mode:    mode,
		abi:     parsed,
		address: cfg.Contract,
		backend: b,
		bound:   bind.NewBoundContract(cfg.Contract, parsed, b, b, b),
	}
	c.closers = append(c.closers, b.Close)

	if mode == contract.ModeSigning {
		key, err := parseKey(cfg.PrivateKey)
		if err != nil {
			return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: err}
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, &contract.ConnectionError{Endpoint: cfg.RPCURL, Err: fmt.Errorf("failed to create transactor: %w", err)}
		}
		c.opts = opts
		c.from = opts.From
	}
	return c, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, errors.New("signing mode requires a private key")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Mode implements contract.Gateway.
func (c *Client) Mode() contract.Mode { return c.mode }

// From returns the signing address, or the zero address for read-only clients.
func (c *Client) From() common.Address { return c.from }

// Close releases every connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for _, closeFn := range c.closers {
			closeFn()
		}
	})
}

// Read implements contract.Reader.
func (c *Client) Read(ctx context.Context, method string, out any, args ...any) error {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return &contract.RemoteCallError{Method: method, Err: fmt.Errorf("failed to pack call: %w", err)}
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: data}, nil)
	if err != nil {
		return &contract.RemoteCallError{Method: method, Err: err}
	}
	if err := decodeOutputs(c.abi.Methods[method], result, out); err != nil {
		return &contract.RemoteCallError{Method: method, Err: fmt.Errorf("failed to unpack result: %w", err)}
	}
	return nil
}

// Submit implements contract.Submitter. An empty method sends value to the contract's
// receive function.
func (c *Client) Submit(ctx context.Context, method string, value *big.Int, args ...any) (contract.PendingTx, error) {
	if c.mode != contract.ModeSigning || c.opts == nil {
		return nil, contract.ErrReadOnly
	}

	c.submitMu.Lock()
	opts := *c.opts
	opts.Context = ctx
	opts.Value = value
	var (
		tx  *types.Transaction
		err error
	)
	if method == "" {
		tx, err = c.bound.Transfer(&opts)
	} else {
		tx, err = c.bound.Transact(&opts, method, args...)
	}
	c.submitMu.Unlock()
	if err != nil {
		return nil, classifySubmitError(method, err)
	}

	log.Info().
		Str("method", methodLabel(method)).
		Str("tx_hash", tx.Hash().Hex()).
		Uint64("nonce", tx.Nonce()).
		Msg("transaction submitted")
	return &pendingTx{client: c, tx: tx}, nil
}

type pendingTx struct {
	client *Client
	tx     *types.Transaction
}

func (p *pendingTx) Hash() common.Hash { return p.tx.Hash() }

// Wait implements contract.PendingTx.
func (p *pendingTx) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, p.client.backend, p.tx)
	if err != nil {
		return fmt.Errorf("failed to await %s: %w", p.tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return nil
	}
	return &contract.TransactionRevertedError{Reason: p.client.replayRevert(ctx, p.tx, receipt)}
}

// replayRevert re-runs a failed transaction as a call against its parent block to
// recover the revert reason. An empty string means none was recoverable.
func (c *Client) replayRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	var at *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		at = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, at)
	reason, _ := revertReason(err)
	return reason
}

func methodLabel(method string) string {
	if method == "" {
		return "transfer"
	}
	return method
}

var _ contract.Gateway = (*Client)(nil)
