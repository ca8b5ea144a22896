package contract

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal converts base units (wei) into display units.
func ToDecimal(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// FromDecimal converts display units into base units, truncating sub-unit dust.
func FromDecimal(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}
