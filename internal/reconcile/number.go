package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/resto-order-engine/internal/money"
)

// Number is a leniently decoded legacy numeric field. It accepts JSON numbers, numeric strings,
// null and MongoDB extended JSON wrappers. Values that cannot be read are kept as present but
// not finite.
type Number struct {
	d       decimal.Decimal
	present bool
	finite  bool
}

// NumberOf wraps a decimal value.
func NumberOf(d decimal.Decimal) Number {
	return Number{d: d, present: true, finite: true}
}

// NumberFromString parses s the same way UnmarshalJSON treats a string.
func NumberFromString(s string) Number {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Number{present: true}
	}
	return NumberOf(d)
}

// Present reports whether the field existed with a non-null value.
func (n Number) Present() bool { return n.present }

// Finite reports whether the field holds a usable number.
func (n Number) Finite() bool { return n.present && n.finite }

// Decimal returns the value, or zero when not finite.
func (n Number) Decimal() decimal.Decimal {
	if !n.Finite() {
		return decimal.Zero
	}
	return n.d
}

// Cents converts a decimal currency amount into cents; non-finite values are zero.
func (n Number) Cents() money.Cents {
	return money.FromDecimal(n.Decimal())
}

// Int returns the value rounded to an integer; used for fields already stored in cents.
func (n Number) Int() int64 {
	return n.Decimal().Round(0).IntPart()
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*n = Number{present: true}
			return nil
		}
		*n = NumberFromString(s)
		return nil
	case data[0] == '{':
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapped); err != nil {
			*n = Number{present: true}
			return nil
		}
		for _, key := range []string{"$numberDecimal", "$numberDouble", "$numberLong", "$numberInt"} {
			if raw, ok := wrapped[key]; ok {
				return n.UnmarshalJSON(raw)
			}
		}
		*n = Number{present: true}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		*n = Number{present: true}
		return nil
	}
	*n = NumberOf(d)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Finite() {
		return []byte("null"), nil
	}
	return []byte(n.d.String()), nil
}
