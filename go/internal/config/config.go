// Package config loads daemon configuration from yaml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/models"
)

// Config is the full daemon configuration.
type Config struct {
	Network NetworkConfig    `yaml:"network"`
	Game    models.Variant   `yaml:"game"`
	Events  contract.Events  `yaml:"events"`
	Methods contract.Methods `yaml:"methods"`
	Sync    SyncConfig       `yaml:"sync"`
	Server  ServerConfig     `yaml:"server"`
	NATS    NATSConfig       `yaml:"nats"`
	Logging LoggingConfig    `yaml:"logging"`
}

type NetworkConfig struct {
	RPCURL   string `yaml:"rpc_url"`
	WSURL    string `yaml:"ws_url"`
	Contract string `yaml:"contract"`
	ChainID  int64  `yaml:"chain_id"`
	// Mode is "read-only" or "signing".
	Mode string `yaml:"mode"`
	// PrivateKey is only read from the environment.
	PrivateKey    string `yaml:"-"`
	ABIPath       string `yaml:"abi_path"`
	MaxBlockRange uint64 `yaml:"max_block_range"`
	FromBlock     uint64 `yaml:"from_block"`
}

type SyncConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	TickInterval          time.Duration `yaml:"tick_interval"`
	LedgerRefreshInterval time.Duration `yaml:"ledger_refresh_interval"`
	CallTimeout           time.Duration `yaml:"call_timeout"`
	ConfirmTimeout        time.Duration `yaml:"confirm_timeout"`
	LedgerSource          string        `yaml:"ledger_source"`
	LeaderboardSize       int           `yaml:"leaderboard_size"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Modes
const (
	ModeReadOnly = "read-only"
	ModeSigning  = "signing"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			Mode:          ModeReadOnly,
			MaxBlockRange: 10_000,
		},
		Game:    models.DefaultVariant(),
		Events:  contract.DefaultEvents(),
		Methods: contract.DefaultMethods(),
		Sync: SyncConfig{
			PollInterval:   5 * time.Second,
			TickInterval:   time.Second,
			CallTimeout:    10 * time.Second,
			ConfirmTimeout: 2 * time.Minute,
			LedgerSource:   "contract",
		},
		Server:  ServerConfig{Port: "8080"},
		NATS:    NATSConfig{URL: "nats://localhost:4222", Subject: "jackpot.snapshots"},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Load reads path over the defaults and applies environment overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Network.RPCURL = getEnv("JACKPOT_RPC_URL", c.Network.RPCURL)
	c.Network.WSURL = getEnv("JACKPOT_WS_URL", c.Network.WSURL)
	c.Network.Contract = getEnv("JACKPOT_CONTRACT", c.Network.Contract)
	c.Network.PrivateKey = getEnv("JACKPOT_PRIVATE_KEY", c.Network.PrivateKey)
	c.Network.Mode = getEnv("JACKPOT_MODE", c.Network.Mode)
	if v := os.Getenv("JACKPOT_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid JACKPOT_CHAIN_ID: %w", err)
		}
		c.Network.ChainID = id
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	return nil
}

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Network.RPCURL == "" {
		errs = append(errs, errors.New("network.rpc_url is required"))
	}
	if !common.IsHexAddress(c.Network.Contract) {
		errs = append(errs, fmt.Errorf("network.contract %q is not an address", c.Network.Contract))
	}
	switch c.Network.Mode {
	case ModeReadOnly:
	case ModeSigning:
		if c.Network.PrivateKey == "" {
			errs = append(errs, errors.New("signing mode requires JACKPOT_PRIVATE_KEY"))
		}
		if c.Network.ChainID <= 0 {
			errs = append(errs, errors.New("signing mode requires network.chain_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown network.mode %q", c.Network.Mode))
	}
	if err := c.Game.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("game: %w", err))
	}
	if c.Methods.GameState == "" || c.Methods.Transactions == "" {
		errs = append(errs, errors.New("methods.game_state and methods.transactions are required"))
	}
	if c.Game.TokenPolicy.Kind == models.TokenERC20 && c.Methods.Deposit == "" && c.Network.Mode == ModeSigning {
		errs = append(errs, errors.New("token deposits require methods.deposit"))
	}
	switch c.Sync.LedgerSource {
	case "contract", "events":
	default:
		errs = append(errs, fmt.Errorf("unknown sync.ledger_source %q", c.Sync.LedgerSource))
	}
	if c.NATS.Enabled && strings.TrimSpace(c.NATS.Subject) == "" {
		errs = append(errs, errors.New("nats.subject is required when nats is enabled"))
	}
	return errors.Join(errs...)
}

// Signing reports whether the daemon should open a signing session.
func (c *Config) Signing() bool { return c.Network.Mode == ModeSigning }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
