package domain

import (
	"github.com/shopspring/decimal"
)

// Money is an amount in currency subunits (cents). It is rendered on the
// wire in the canonical currency unit with two decimals.
type Money int64

var centsPerUnit = decimal.NewFromInt(100)

// MoneyFromDecimal rounds d to two decimals and converts it to cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(2).Mul(centsPerUnit).IntPart())
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// Units returns the whole currency units contained in m, truncated.
func (m Money) Units() int64 {
	return int64(m) / 100
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().StringFixed(2)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*m = MoneyFromDecimal(d)
	return nil
}

// PruneZero drops counters that net out to zero so that a reversed effect
// leaves the map exactly as it was before.
func PruneZero[V int | Money](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
