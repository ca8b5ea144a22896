package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jackpot/go/internal/models"
)

const sample = `
network:
  rpc_url: https://rpc.example.org
  ws_url: wss://rpc.example.org/ws
  contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  chain_id: 11155111
  from_block: 6400000
game:
  timer_convention: elapsed
  fee_basis_points: 500
  payout_record_shape: per_winner
  round_duration: 5m
  extension_window: 30s
  extension_increment: 5s
  max_winners: 3
  token_policy:
    kind: token
    decimals: 6
    symbol: USDC
    minimum_deposit: "1.5"
methods:
  game_state: getGameState
  transactions: getAllTransactions
  deposit: deposit
sync:
  poll_interval: 3s
  ledger_source: events
nats:
  enabled: true
  subject: jackpot.test
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), cfg.Network.ChainID)
	assert.Equal(t, uint64(6400000), cfg.Network.FromBlock)
	assert.Equal(t, models.TimerElapsed, cfg.Game.TimerConvention)
	assert.Equal(t, models.PayoutPerWinner, cfg.Game.PayoutRecordShape)
	assert.Equal(t, 5*time.Minute, cfg.Game.RoundDuration)
	assert.Equal(t, 5*time.Second, cfg.Game.ExtensionIncrement)
	assert.True(t, cfg.Game.TokenPolicy.MinimumDeposit.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "deposit", cfg.Methods.Deposit)
	assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, "events", cfg.Sync.LedgerSource)

	// untouched sections keep their defaults
	assert.Equal(t, time.Second, cfg.Sync.TickInterval)
	assert.Equal(t, "WinnersPaid", cfg.Events.Payout)
	assert.Equal(t, "settle", cfg.Methods.Settle)
	assert.Equal(t, "8080", cfg.Server.Port)

	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Signing())
}

func TestExampleConfigMatchesDefaultTiming(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "config.example.yaml"))
	require.NoError(t, err)

	def := Default().Game
	assert.Equal(t, def.RoundDuration, cfg.Game.RoundDuration)
	assert.Equal(t, def.ExtensionWindow, cfg.Game.ExtensionWindow)
	assert.Equal(t, 3*time.Second, cfg.Game.ExtensionIncrement)
	assert.Equal(t, def.ExtensionIncrement, cfg.Game.ExtensionIncrement)
	assert.Equal(t, def.MaxWinners, cfg.Game.MaxWinners)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JACKPOT_RPC_URL", "http://localhost:8545")
	t.Setenv("JACKPOT_CONTRACT", "0x0000000000000000000000000000000000000001")
	t.Setenv("JACKPOT_MODE", ModeSigning)
	t.Setenv("JACKPOT_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("JACKPOT_CHAIN_ID", "31337")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Network.RPCURL)
	assert.Equal(t, int64(31337), cfg.Network.ChainID)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Signing())
}

func TestEnvInvalidChainID(t *testing.T) {
	t.Setenv("JACKPOT_CHAIN_ID", "mainnet")
	_, err := Load("")
	assert.ErrorContains(t, err, "JACKPOT_CHAIN_ID")
}

func TestPrivateKeyNotReadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "network:\n  private_key: deadbeef\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Network.PrivateKey)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Network.RPCURL = "http://localhost:8545"
		c.Network.Contract = "0x0000000000000000000000000000000000000001"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing rpc", mutate: func(c *Config) { c.Network.RPCURL = "" }, wantErr: "rpc_url"},
		{name: "bad contract", mutate: func(c *Config) { c.Network.Contract = "jackpot" }, wantErr: "not an address"},
		{name: "signing without key", mutate: func(c *Config) { c.Network.Mode = ModeSigning; c.Network.ChainID = 1 }, wantErr: "JACKPOT_PRIVATE_KEY"},
		{name: "signing without chain", mutate: func(c *Config) { c.Network.Mode = ModeSigning; c.Network.PrivateKey = "aa" }, wantErr: "chain_id"},
		{name: "unknown mode", mutate: func(c *Config) { c.Network.Mode = "admin" }, wantErr: "network.mode"},
		{name: "bad variant", mutate: func(c *Config) { c.Game.MaxWinners = 0 }, wantErr: "max_winners"},
		{name: "bad ledger source", mutate: func(c *Config) { c.Sync.LedgerSource = "subgraph" }, wantErr: "ledger_source"},
		{name: "nats without subject", mutate: func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = " " }, wantErr: "nats.subject"},
		{
			name: "token deposit without method",
			mutate: func(c *Config) {
				c.Network.Mode = ModeSigning
				c.Network.PrivateKey = "aa"
				c.Network.ChainID = 1
				c.Game.TokenPolicy.Kind = models.TokenERC20
			},
			wantErr: "methods.deposit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
