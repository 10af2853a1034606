package forms

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"efile/internal/document"
)

// Writer appends elements to one node and records missing required fields by
// path. Optional values are omitted when empty or zero; computed totals are
// always written.
type Writer struct {
	node    *document.Node
	path    string
	missing *[]string
}

func newWriter(node *document.Node) *Writer {
	return &Writer{node: node, path: node.Name, missing: new([]string)}
}

// Section appends a container element and returns a writer for it.
func (w *Writer) Section(name string) *Writer {
	child := document.NewNode(name)
	w.node.Append(child)
	return &Writer{node: child, path: w.path + "/" + name, missing: w.missing}
}

// Entry appends one element of a repeated group. index is 1-based and only
// affects the recorded path of missing fields.
func (w *Writer) Entry(name string, index int) *Writer {
	child := document.NewNode(name)
	w.node.Append(child)
	return &Writer{node: child, path: w.path + "/" + name + "[" + strconv.Itoa(index) + "]", missing: w.missing}
}

// Missing returns the missing required paths recorded so far.
func (w *Writer) Missing() []string {
	return *w.missing
}

func (w *Writer) miss(name string) {
	*w.missing = append(*w.missing, w.path+"/"+name)
}

func (w *Writer) leaf(name, value string) {
	w.node.Append(document.Leaf(name, value))
}

// RequiredText writes a trimmed text value; blank is recorded as missing.
func (w *Writer) RequiredText(name, v string) {
	v = normalizeText(v)
	if v == "" {
		w.miss(name)
		return
	}
	w.leaf(name, v)
}

// Text writes a trimmed text value when not blank.
func (w *Writer) Text(name, v string) {
	if v = normalizeText(v); v != "" {
		w.leaf(name, v)
	}
}

// RequiredAmount writes an amount that must be supplied, zero included.
func (w *Writer) RequiredAmount(name string, v decimal.NullDecimal) {
	if !v.Valid {
		w.miss(name)
		return
	}
	w.leaf(name, document.FormatAmount(v.Decimal))
}

// Amount writes an optional amount when non-zero.
func (w *Writer) Amount(name string, v decimal.Decimal) {
	if !v.IsZero() {
		w.leaf(name, document.FormatAmount(v))
	}
}

// Total writes a computed amount unconditionally.
func (w *Writer) Total(name string, v decimal.Decimal) {
	w.leaf(name, document.FormatAmount(v))
}

// RequiredCount writes a positive integer; zero or negative is missing.
func (w *Writer) RequiredCount(name string, v int) {
	if v <= 0 {
		w.miss(name)
		return
	}
	w.leaf(name, strconv.Itoa(v))
}

// Count writes an optional non-zero integer.
func (w *Writer) Count(name string, v int) {
	if v != 0 {
		w.leaf(name, strconv.Itoa(v))
	}
}

// RequiredDate writes a calendar date; the zero time is missing.
func (w *Writer) RequiredDate(name string, v time.Time) {
	if v.IsZero() {
		w.miss(name)
		return
	}
	w.leaf(name, v.Format(document.DateLayout))
}

// Flag writes the checkbox value "X" when set.
func (w *Writer) Flag(name string, v bool) {
	if v {
		w.leaf(name, "X")
	}
}

// RequiredRate writes a positive ratio with six fraction digits.
func (w *Writer) RequiredRate(name string, v decimal.Decimal) {
	if !v.IsPositive() {
		w.miss(name)
		return
	}
	w.leaf(name, v.StringFixed(6))
}

// Ratio writes a computed ratio with six fraction digits.
func (w *Writer) Ratio(name string, v decimal.Decimal) {
	w.leaf(name, v.StringFixed(6))
}

// RequireEntries records name as missing when a repeated group is empty.
func (w *Writer) RequireEntries(name string, n int) {
	if n == 0 {
		w.miss(name)
	}
}

func normalizeText(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// Amt is shorthand for a supplied required amount.
func Amt(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// Dec parses a literal amount, panicking on malformed input. Intended for
// fixtures and constants.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sum(values ...decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, values...)
}

func val(v decimal.NullDecimal) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
