package connector

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Number decodes a JSON price sent either as a string or a number.
// Empty strings and null leave it unset.
type Number struct {
	decimal.Decimal
	Set bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = Number{}
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("price %q: %w", b, err)
	}
	*n = Number{Decimal: d, Set: true}
	return nil
}

// Scaled returns the value divided by a contract multiplier
func (n Number) Scaled(multiplier float64) float64 {
	if !n.Set {
		return 0
	}
	d := n.Decimal
	if multiplier > 0 && multiplier != 1 {
		d = d.Div(decimal.NewFromFloat(multiplier))
	}
	f, _ := d.Float64()
	return f
}

// Ptr returns the value as a *float64, nil when unset
func (n Number) Ptr() *float64 {
	if !n.Set {
		return nil
	}
	f, _ := n.Decimal.Float64()
	return &f
}
