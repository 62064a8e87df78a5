package money

import "strings"

// RoundingMode names how a fractional cent is resolved.
type RoundingMode string

const (
	HalfUp   RoundingMode = "half_up"
	HalfEven RoundingMode = "half_even"
	Down     RoundingMode = "down"
)

type divider func(q, r, den int64) int64

var roundingModes = map[RoundingMode]divider{
	HalfUp: func(q, r, den int64) int64 {
		if 2*abs(r) >= den {
			return q + sign(r)
		}
		return q
	},
	HalfEven: func(q, r, den int64) int64 {
		switch twice := 2 * abs(r); {
		case twice > den:
			return q + sign(r)
		case twice == den && q%2 != 0:
			return q + sign(r)
		}
		return q
	},
	Down: func(q, _, _ int64) int64 {
		return q
	},
}

// ParseRoundingMode resolves a configured mode name. Unknown or empty names fall back to HalfUp.
func ParseRoundingMode(name string) RoundingMode {
	mode := RoundingMode(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := roundingModes[mode]; ok {
		return mode
	}
	return HalfUp
}

// Div returns num/den rounded according to the mode. Half-up rounds half away from zero and
// down truncates toward zero. A zero denominator yields zero.
func (m RoundingMode) Div(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if den < 0 {
		num, den = -num, -den
	}
	fn, ok := roundingModes[m]
	if !ok {
		fn = roundingModes[HalfUp]
	}
	return fn(num/den, num%den, den)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
