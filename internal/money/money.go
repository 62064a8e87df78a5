package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents represents a monetary value stored in the currency's minor unit.
type Cents = int64

// ErrNotFinite is returned when a decimal input is NaN or infinite.
var ErrNotFinite = errors.New("money: value is not finite")

// FromDecimal converts a decimal currency amount into cents using round(value × 100),
// rounding half away from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return d.Shift(2).Round(0).IntPart()
}

// FromFloat converts a float currency amount into cents. NaN and infinities are rejected.
func FromFloat(f float64) (Cents, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotFinite
	}
	return FromDecimal(decimal.NewFromFloat(f)), nil
}

// ParseDecimal parses a decimal string such as "12.50" into cents.
func ParseDecimal(s string) (Cents, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// ToDecimal converts cents back into a decimal currency amount.
func ToDecimal(c Cents) decimal.Decimal {
	return decimal.New(c, -2)
}

// Format renders cents as a fixed two-decimal string.
func Format(c Cents) string {
	return ToDecimal(c).StringFixed(2)
}

// MulBps applies a basis-point rate to amount using the provided rounding mode.
func MulBps(amount Cents, bps int64, mode RoundingMode) Cents {
	return mode.Div(amount*bps, 10000)
}

// Percent returns pct percent of amount using the provided rounding mode.
func Percent(amount Cents, pct int64, mode RoundingMode) Cents {
	return mode.Div(amount*pct, 100)
}

// Allocate splits total across weights proportionally. Each share is floor(total × w / Σw);
// the remainder is assigned to the last positive weight. When total does not exceed Σw no
// share exceeds its own weight: remainder that does not fit spills to earlier entries.
// The returned shares always sum to total (or are all zero when nothing can carry it).
func Allocate(total Cents, weights []Cents) []Cents {
	out := make([]Cents, len(weights))
	if total <= 0 {
		return out
	}
	var sum Cents
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum <= 0 {
		return out
	}
	capped := total <= sum
	var allocated Cents
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		out[i] = total * w / sum
		allocated += out[i]
	}
	remainder := total - allocated
	for i := len(weights) - 1; i >= 0 && remainder > 0; i-- {
		if weights[i] <= 0 {
			continue
		}
		room := remainder
		if capped {
			room = min(remainder, weights[i]-out[i])
		}
		if room <= 0 {
			continue
		}
		out[i] += room
		remainder -= room
	}
	return out
}
