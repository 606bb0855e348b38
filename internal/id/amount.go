package id

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a USD notional cannot be turned into a
// positive token amount.
var ErrInvalidAmount = errors.New("invalid amount")

// microScale is the fixed-point precision applied before scaling to base units.
const microScale = 6

var (
	microFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(microScale), nil)
	decMicro    = decimal.New(1, microScale)
)

// USDToBaseUnits converts a USD notional at unitPrice into integer base units of a
// token with the given decimals. The token amount is truncated to micro-token
// precision before scaling so the result never goes through a float.
func USDToBaseUnits(usd, unitPrice decimal.Decimal, decimals int) (string, error) {
	tokens, err := TokenAmount(usd, unitPrice)
	if err != nil {
		return "", err
	}
	if decimals < 0 {
		return "", ErrInvalidAmount
	}
	micro := tokens.Mul(decMicro).Floor().BigInt()
	if micro.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	base := new(big.Int).Mul(micro, scale)
	base.Quo(base, microFactor)
	if base.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return base.String(), nil
}

// TokenAmount is usd / unitPrice; both must be positive.
func TokenAmount(usd, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if !usd.IsPositive() || !unitPrice.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	out := usd.DivRound(unitPrice, 18)
	if !out.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return out, nil
}

// TokenAmountString renders the token amount bought by usd at unitPrice with six
// decimals, or "0" when the inputs are unusable.
func TokenAmountString(usd, unitPrice decimal.Decimal) string {
	out, err := TokenAmount(usd, unitPrice)
	if err != nil {
		return "0"
	}
	return out.Truncate(microScale).StringFixed(microScale)
}

// FormatFixed divides baseUnits by 10^decimals and renders exactly places
// fractional digits, rounding half away from zero.
func FormatFixed(baseUnits string, decimals, places int) (string, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "", false
	}
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromBigInt(n, int32(-decimals)).StringFixed(int32(places)), true
}

// FormatDecimalCompat converts base-unit integer strings into decimal strings.
func FormatDecimalCompat(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "0"
	}
	if decimals <= 0 {
		return n.String()
	}
	s := n.String()
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out
}

// ParseBaseUnits parses a non-negative integer string.
func ParseBaseUnits(v string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
