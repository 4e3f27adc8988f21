package billing

import "github.com/shopspring/decimal"

// TransactionType determines the sign of the computed totals.
type TransactionType string

const (
	TypeSale     TransactionType = "sale"
	TypeReturn   TransactionType = "return"
	TypeExchange TransactionType = "exchange"
)

// Valid reports whether the transaction type is one of the known values.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeSale, TypeReturn, TypeExchange:
		return true
	}
	return false
}

// DiscountKind selects how a line-level discount is interpreted.
type DiscountKind string

const (
	DiscountNone    DiscountKind = ""
	DiscountFlat    DiscountKind = "flat"
	DiscountPercent DiscountKind = "percent"
)

// LineDiscount is an optional per-line reduction applied before the
// cart-level discount. Flat values are currency amounts, percent values
// are in [0, 100].
type LineDiscount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// Line is one priced entry used for total computation.
type Line struct {
	Qty       int
	UnitPrice decimal.Decimal
	Discount  LineDiscount
}

// Summary holds the computed billing components. Subtotal and Total are
// signed; Discount and Tax are non-negative magnitudes.
type Summary struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)
)

// subtotal returns the non-negative magnitude of a line after its own
// discount. Lines with non-positive quantity contribute nothing.
func (l Line) subtotal() decimal.Decimal {
	if l.Qty <= 0 {
		return decimal.Zero
	}
	gross := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
	var off decimal.Decimal
	switch l.Discount.Kind {
	case DiscountFlat:
		off = l.Discount.Value
	case DiscountPercent:
		off = gross.Mul(clampPercent(l.Discount.Value)).Div(hundred)
	default:
		return gross
	}
	net := gross.Sub(off)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// Compute calculates the billing summary for the given lines, cart-level
// discount and tax percentages, and transaction type.
//
// Discount and tax always apply to the magnitude of the subtotal; the sign
// is reapplied afterwards so a return mirrors the arithmetic of a sale
// instead of taking a separate code path. Each monetary component is
// rounded to two decimal places (half away from zero) at the point it is
// computed, so repeated recomputation over the same inputs is exact.
func Compute(lines []Line, discountPercent, taxPercent decimal.Decimal, typ TransactionType) Summary {
	raw := decimal.Zero
	for _, l := range lines {
		raw = raw.Add(l.subtotal())
	}
	raw = round2(raw)

	sign := decimal.NewFromInt(1)
	if typ == TypeReturn {
		sign = decimal.NewFromInt(-1)
	}
	signedSubtotal := raw.Mul(sign)

	discount := round2(raw.Mul(clampPercent(discountPercent)).Div(hundred))
	taxable := signedSubtotal.Sub(sign.Mul(discount))
	tax := round2(taxable.Abs().Mul(clampPercent(taxPercent)).Div(hundred))
	total := round2(taxable.Add(sign.Mul(tax)))

	return Summary{
		Subtotal: signedSubtotal,
		Discount: discount,
		Tax:      tax,
		Total:    total,
	}
}

// round2 rounds to two decimal places, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
