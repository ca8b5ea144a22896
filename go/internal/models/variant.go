package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimerConvention defines how the contract expresses the round clock.
type TimerConvention string

const (
	// TimerCountdown means the contract reports seconds left and an end timestamp.
	TimerCountdown TimerConvention = "countdown"
	// TimerElapsed means the contract reports seconds elapsed and a start timestamp.
	TimerElapsed TimerConvention = "elapsed"
)

// PayoutShape defines how payout events map to payout records.
type PayoutShape string

const (
	// PayoutAggregate keeps one record per event holding the full winner list.
	PayoutAggregate PayoutShape = "aggregate"
	// PayoutPerWinner expands every event into one record per winner.
	PayoutPerWinner PayoutShape = "per_winner"
)

// TokenKind defines what a deposit is paid in.
type TokenKind string

const (
	TokenNative TokenKind = "native"
	TokenERC20  TokenKind = "token"
)

// TokenPolicy holds deposit gating for the deployed contract.
type TokenPolicy struct {
	Kind TokenKind `yaml:"kind" json:"kind"`
	// AcceptedToken is informational for TokenERC20; empty means read it from the contract.
	AcceptedToken string `yaml:"accepted_token" json:"accepted_token,omitempty"`
	// MinimumDeposit in display units; zero means no client-side minimum.
	MinimumDeposit decimal.Decimal `yaml:"minimum_deposit" json:"minimum_deposit"`
	Decimals       int32           `yaml:"decimals" json:"decimals"`
	Symbol         string          `yaml:"symbol" json:"symbol"`
}

// Variant is the single configuration object covering every deployed flavour of the game.
type Variant struct {
	TimerConvention   TimerConvention `yaml:"timer_convention" json:"timer_convention"`
	FeeBasisPoints    int64           `yaml:"fee_basis_points" json:"fee_basis_points"`
	TokenPolicy       TokenPolicy     `yaml:"token_policy" json:"token_policy"`
	PayoutRecordShape PayoutShape     `yaml:"payout_record_shape" json:"payout_record_shape"`

	RoundDuration      time.Duration `yaml:"round_duration" json:"round_duration"`
	ExtensionWindow    time.Duration `yaml:"extension_window" json:"extension_window"`
	ExtensionIncrement time.Duration `yaml:"extension_increment" json:"extension_increment"`
	MaxWinners         int           `yaml:"max_winners" json:"max_winners"`

	// DepositOpensRound lets the opening deposit through while the round is idle.
	DepositOpensRound bool `yaml:"deposit_opens_round" json:"deposit_opens_round"`

	// DepositSettlesExpired lets deposits through once a round has ended, for contracts
	// whose fallback deposit doubles as the settlement trigger. Confirm against the
	// deployed contract before enabling.
	DepositSettlesExpired bool `yaml:"deposit_settles_expired" json:"deposit_settles_expired"`
}

// DefaultVariant is the 10-minute native-value deployment.
func DefaultVariant() Variant {
	return Variant{
		TimerConvention:   TimerCountdown,
		FeeBasisPoints:    1000,
		PayoutRecordShape: PayoutAggregate,
		TokenPolicy: TokenPolicy{
			Kind:     TokenNative,
			Decimals: 18,
			Symbol:   "ETH",
		},
		RoundDuration:      10 * time.Minute,
		ExtensionWindow:    time.Minute,
		ExtensionIncrement: 3 * time.Second,
		MaxWinners:         5,
		DepositOpensRound:  true,
	}
}

// Validate checks the variant for values the reconciler cannot work with.
func (v Variant) Validate() error {
	switch v.TimerConvention {
	case TimerCountdown, TimerElapsed:
	default:
		return fmt.Errorf("unknown timer convention %q", v.TimerConvention)
	}
	switch v.PayoutRecordShape {
	case PayoutAggregate, PayoutPerWinner:
	default:
		return fmt.Errorf("unknown payout record shape %q", v.PayoutRecordShape)
	}
	switch v.TokenPolicy.Kind {
	case TokenNative, TokenERC20:
	default:
		return fmt.Errorf("unknown token kind %q", v.TokenPolicy.Kind)
	}
	if v.FeeBasisPoints < 0 || v.FeeBasisPoints > 10000 {
		return fmt.Errorf("fee_basis_points must be within 0..10000, got %d", v.FeeBasisPoints)
	}
	if v.RoundDuration < time.Second {
		return fmt.Errorf("round_duration must be at least 1s")
	}
	if v.ExtensionWindow < 0 || v.ExtensionWindow > v.RoundDuration {
		return fmt.Errorf("extension_window must be within 0..round_duration")
	}
	if v.ExtensionIncrement < 0 {
		return fmt.Errorf("extension_increment must not be negative")
	}
	if v.MaxWinners <= 0 {
		return fmt.Errorf("max_winners must be positive")
	}
	return nil
}

// FeeMultiplier is the share of the pot left after the deployer fee.
func (v Variant) FeeMultiplier() decimal.Decimal {
	return decimal.NewFromInt(10000 - v.FeeBasisPoints).Div(decimal.NewFromInt(10000))
}
