package pos

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/session"
)

// LineView is the read model of one cart line.
type LineView struct {
	Index             int                `json:"index"`
	ProductID         int64              `json:"productId"`
	Name              string             `json:"name"`
	SKU               string             `json:"sku"`
	UnitPrice         decimal.Decimal    `json:"unitPrice"`
	Quantity          int                `json:"quantity"`
	AvailableStock    int                `json:"availableStock"`
	Discount          *LineDiscountInput `json:"discount,omitempty"`
	UnitTracking      bool               `json:"unitTracking"`
	Binding           string             `json:"binding"`
	SerializedUnitIDs []int64            `json:"serializedUnitIds"`
}

// TotalsView is the billing summary for the current cart state.
type TotalsView struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// SessionView is the full read model of a session: context, lines in
// insertion order and recomputed totals.
type SessionView struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	DiscountPercent  decimal.Decimal `json:"discountPercent"`
	TaxPercent       decimal.Decimal `json:"taxPercent"`
	CustomerName     string          `json:"customerName,omitempty"`
	CustomerPhone    string          `json:"customerPhone,omitempty"`
	CustomerEmail    string          `json:"customerEmail,omitempty"`
	PaymentMethod    string          `json:"paymentMethod,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	Lines            []LineView      `json:"lines"`
	Totals           TotalsView      `json:"totals"`
	Submittable      bool            `json:"submittable"`
}

func snapshot(sess *session.Session) SessionView {
	ctx := sess.Cart.Context()
	view := SessionView{
		ID:               sess.ID,
		Type:             string(ctx.Type),
		DiscountPercent:  ctx.DiscountPercent,
		TaxPercent:       ctx.TaxPercent,
		CustomerName:     ctx.Customer.Name,
		CustomerPhone:    ctx.Customer.Phone,
		CustomerEmail:    ctx.Customer.Email,
		PaymentMethod:    ctx.PaymentMethod,
		PaymentReference: ctx.PaymentReference,
		Lines:            make([]LineView, 0, sess.Cart.Len()),
		Submittable:      sess.Cart.IsSubmittable(),
	}
	for i, line := range sess.Cart.Lines() {
		view.Lines = append(view.Lines, lineView(i, line))
	}
	totals := sess.Cart.Totals()
	view.Totals = TotalsView{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
	return view
}

func lineView(index int, line *cart.Line) LineView {
	ids := line.SerializedUnitIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	view := LineView{
		Index:             index,
		ProductID:         line.ProductID,
		Name:              line.ProductName,
		SKU:               line.SKU,
		UnitPrice:         line.UnitPrice,
		Quantity:          line.Quantity,
		AvailableStock:    line.AvailableStock,
		UnitTracking:      line.UnitTracking,
		Binding:           string(line.Binding()),
		SerializedUnitIDs: ids,
	}
	if line.Discount.Kind != "" {
		view.Discount = &LineDiscountInput{Kind: string(line.Discount.Kind), Value: line.Discount.Value}
	}
	return view
}
