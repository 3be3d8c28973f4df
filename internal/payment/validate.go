package payment

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// SupportedSymbols is the fixed set of stablecoins a payment may use.
var SupportedSymbols = []string{"USDC", "USDT", "DAI"}

var (
	MinAmount = decimal.RequireFromString("0.01")
	MaxAmount = decimal.NewFromInt(1_000_000)
)

// IsValidAddress accepts 0x followed by exactly 40 hex characters.
func IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// IsValidTxHash accepts 0x followed by exactly 64 hex characters.
func IsValidTxHash(hash string) bool {
	if !strings.HasPrefix(hash, "0x") || len(hash) != 2+2*common.HashLength {
		return false
	}
	_, err := hexutil.Decode(hash)
	return err == nil
}

// IsValidAmount checks the inclusive payment bounds.
func IsValidAmount(amount decimal.Decimal) bool {
	return !amount.LessThan(MinAmount) && !amount.GreaterThan(MaxAmount)
}

// FitsDecimals reports whether amount can be expressed in whole token units
// of the given precision.
func FitsDecimals(amount decimal.Decimal, decimals int32) bool {
	atoms := amount.Shift(decimals)
	return atoms.Equal(atoms.Truncate(0))
}

// NormalizeSymbol uppercases the input and reports whether it is supported.
func NormalizeSymbol(symbol string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range SupportedSymbols {
		if s == upper {
			return upper, true
		}
	}
	return upper, false
}
