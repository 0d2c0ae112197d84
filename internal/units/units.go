// Package units converts raw on-chain integers into human-scaled token
// amounts and formats them for log output.
package units

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToHuman returns raw / 10^decimals without any loss of precision.
func ToHuman(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ToRaw scales a human amount back into raw units, truncating anything
// below one raw unit.
func ToRaw(human decimal.Decimal, decimals uint8) *big.Int {
	return human.Shift(int32(decimals)).BigInt()
}

// FormatGrouped renders d rounded half away from zero to places decimals,
// with comma thousands separators in the integer part.
func FormatGrouped(d decimal.Decimal, places int32) string {
	fixed := d.StringFixed(places)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(fixed, ".")

	var b strings.Builder
	b.Grow(len(fixed) + len(intPart)/3 + 1)
	b.WriteString(sign)
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}

// FormatWhole is FormatGrouped with zero decimal places, the form used for
// supply and balance log lines.
func FormatWhole(d decimal.Decimal) string {
	return FormatGrouped(d, 0)
}
