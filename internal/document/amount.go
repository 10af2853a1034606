package document

import (
	"github.com/shopspring/decimal"
)

// FormatAmount renders a currency amount with exactly two fraction digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseAmount reads an amount element value.
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// AmountAt returns the decimal at path, or zero and false when absent or not numeric.
func (n *Node) AmountAt(path string) (decimal.Decimal, bool) {
	v, ok := n.Text(path)
	if !ok {
		return decimal.Zero, false
	}
	d, err := ParseAmount(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
