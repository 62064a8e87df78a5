package pricing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineInputConvertsDecimalsOnce(t *testing.T) {
	raw := `{
		"menuItemId": "pho",
		"basePrice": "9.995",
		"quantity": 2,
		"addons": [{"name": "egg", "price": 0.5}, {"name": "herbs", "priceCents": 25}],
		"optionGroups": [{"groupId": "size", "type": "single", "items": [{"id": "small", "priceDelta": "-1.00"}]}]
	}`
	var in LineInput
	require.NoError(t, json.Unmarshal([]byte(raw), &in))

	line := in.CartLine()
	require.EqualValues(t, 1000, line.BasePriceCents)
	require.EqualValues(t, 50, line.Addons[0].PriceCents)
	require.EqualValues(t, 25, line.Addons[1].PriceCents)
	require.EqualValues(t, -100, line.OptionGroups[0].Items[0].PriceDeltaCents)

	priced, err := Price(line)
	require.NoError(t, err)
	require.EqualValues(t, 975, priced.UnitPriceCents)
	require.EqualValues(t, 1950, priced.LineTotalCents)
}

func TestLineInputPrefersCents(t *testing.T) {
	cents := int64(120)
	var in LineInput
	require.NoError(t, json.Unmarshal([]byte(`{"menuItemId":"x","basePrice":"9.99","quantity":1}`), &in))
	in.BasePriceCents = &cents
	require.EqualValues(t, 120, in.CartLine().BasePriceCents)
	require.Len(t, CartLines([]LineInput{in, in}), 2)
}
