package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/billing"
)

// ErrOutOfStock is returned when a product with zero stock is added.
var ErrOutOfStock = errors.New("product out of stock")

// ErrLineNotFound indicates the referenced line index does not exist.
var ErrLineNotFound = errors.New("cart line not found")

// ErrUnitCountMismatch is returned when the number of serialized units
// offered for binding differs from the line quantity.
var ErrUnitCountMismatch = errors.New("serialized unit count does not match quantity")

// ErrUnitNotAvailable is returned when a unit id offered for binding is not
// in the candidate set of currently available units.
var ErrUnitNotAvailable = errors.New("serialized unit not available")

// ErrEmptyCart indicates an operation that requires at least one line.
var ErrEmptyCart = errors.New("cart is empty")

// BindingState describes how a line's serialized units reconcile against
// its quantity.
type BindingState string

const (
	// BindingNotApplicable means the product had no available serialized
	// units at the last check, so no binding is required.
	BindingNotApplicable BindingState = "not_applicable"
	// BindingUnbound means units exist for the product but none are selected.
	BindingUnbound BindingState = "unbound"
	// BindingPartial means some but not all required units are selected.
	BindingPartial BindingState = "partially_bound"
	// BindingFull means the selected unit count equals the quantity.
	BindingFull BindingState = "fully_bound"
)

// Submittable reports whether the state permits transaction submission.
func (s BindingState) Submittable() bool {
	return s == BindingNotApplicable || s == BindingFull
}

// ProductSnapshot is the catalog state captured when a product enters the
// cart. It does not track later catalog changes.
type ProductSnapshot struct {
	ID           int64
	Name         string
	SKU          string
	SellingPrice decimal.Decimal
	CurrentStock int
}

// Line is one product entry in the active transaction.
type Line struct {
	ProductID      int64
	ProductName    string
	SKU            string
	UnitPrice      decimal.Decimal
	Quantity       int
	AvailableStock int
	Discount       billing.LineDiscount

	// UnitTracking records whether the product had available serialized
	// units when last checked. Set via SetUnitTracking after the
	// availability probe.
	UnitTracking bool

	unitIDs map[int64]struct{}
}

// SerializedUnitIDs returns the bound unit ids. Order is unspecified.
func (l *Line) SerializedUnitIDs() []int64 {
	ids := make([]int64, 0, len(l.unitIDs))
	for id := range l.unitIDs {
		ids = append(ids, id)
	}
	return ids
}

// BoundCount returns the number of serialized units bound to the line.
func (l *Line) BoundCount() int { return len(l.unitIDs) }

// Binding returns the reconciliation state for the line.
func (l *Line) Binding() BindingState {
	if !l.UnitTracking {
		return BindingNotApplicable
	}
	switch bound := len(l.unitIDs); {
	case bound == 0:
		return BindingUnbound
	case bound < l.Quantity:
		return BindingPartial
	default:
		return BindingFull
	}
}

// Customer holds optional contact details for the transaction.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// Context is the non-line state of the in-progress transaction.
type Context struct {
	Type             billing.TransactionType
	DiscountPercent  decimal.Decimal
	TaxPercent       decimal.Decimal
	Customer         Customer
	PaymentMethod    string
	PaymentReference string
}

// DefaultContext returns the context a fresh transaction starts with.
func DefaultContext() Context {
	return Context{Type: billing.TypeSale}
}

// Cart owns the ordered line items of one in-progress transaction. It is
// constructed fresh per transaction and passed explicitly, never shared as
// ambient state. Insertion order is preserved for display and receipts.
type Cart struct {
	lines []*Line
	ctx   Context
}

// New returns an empty cart with a default transaction context.
func New() *Cart {
	return &Cart{ctx: DefaultContext()}
}

// AddResult reports the outcome of AddProduct.
type AddResult struct {
	Index int
	Line  *Line
	// Clamped is set when the requested quantity exceeded available stock
	// and was reduced to the maximum. A soft warning, not a failure.
	Clamped bool
}

// AddProduct appends the product to the cart, or merges into an existing
// line for the same product by incrementing its quantity. The quantity is
// clamped to the line's available-stock snapshot; exceeding it sets
// Clamped on the result instead of failing.
func (c *Cart) AddProduct(p ProductSnapshot, requestedQty int) (AddResult, error) {
	if p.CurrentStock <= 0 {
		return AddResult{}, fmt.Errorf("product %d: %w", p.ID, ErrOutOfStock)
	}
	if requestedQty < 1 {
		requestedQty = 1
	}
	for i, line := range c.lines {
		if line.ProductID != p.ID {
			continue
		}
		wanted := line.Quantity + requestedQty
		clamped := false
		if wanted > line.AvailableStock {
			wanted = line.AvailableStock
			clamped = true
		}
		if wanted != line.Quantity {
			line.Quantity = wanted
			line.unitIDs = nil
		}
		return AddResult{Index: i, Line: line, Clamped: clamped}, nil
	}

	qty := requestedQty
	clamped := false
	if qty > p.CurrentStock {
		qty = p.CurrentStock
		clamped = true
	}
	line := &Line{
		ProductID:      p.ID,
		ProductName:    p.Name,
		SKU:            p.SKU,
		UnitPrice:      p.SellingPrice,
		Quantity:       qty,
		AvailableStock: p.CurrentStock,
	}
	c.lines = append(c.lines, line)
	return AddResult{Index: len(c.lines) - 1, Line: line, Clamped: clamped}, nil
}

// SetQuantity sets the line quantity, clamped to [1, availableStock].
// Clamped is reported when the requested value exceeded available stock.
// Any quantity change clears previously bound serialized units: the
// required count changed, so the selection must be redone.
func (c *Cart) SetQuantity(index, quantity int) (AddResult, error) {
	line, err := c.line(index)
	if err != nil {
		return AddResult{}, err
	}
	clamped := false
	if quantity > line.AvailableStock {
		quantity = line.AvailableStock
		clamped = true
	}
	if quantity < 1 {
		quantity = 1
	}
	if quantity != line.Quantity {
		line.Quantity = quantity
		line.unitIDs = nil
	}
	return AddResult{Index: index, Line: line, Clamped: clamped}, nil
}

// AdjustQuantity changes the line quantity by delta, with the same
// clamping and unit-reset semantics as SetQuantity.
func (c *Cart) AdjustQuantity(index, delta int) (AddResult, error) {
	line, err := c.line(index)
	if err != nil {
		return AddResult{}, err
	}
	return c.SetQuantity(index, line.Quantity+delta)
}

// SetUnitTracking records whether the product on the line has available
// serialized units, as reported by the inventory availability check.
func (c *Cart) SetUnitTracking(index int, tracked bool) error {
	line, err := c.line(index)
	if err != nil {
		return err
	}
	line.UnitTracking = tracked
	return nil
}

// SetLineDiscount attaches a per-line discount. It composes with the
// cart-level discount percentage at computation time.
func (c *Cart) SetLineDiscount(index int, d billing.LineDiscount) error {
	line, err := c.line(index)
	if err != nil {
		return err
	}
	line.Discount = d
	return nil
}

// BindSerializedUnits binds the given unit ids to the line. The count must
// equal the line quantity and every id must be present in the candidate
// set of currently available units; otherwise the binding is rejected and
// the line is left unchanged. The candidate set is best-effort: another
// transaction may consume a unit between fetch and submission, and the
// backend stays the final authority.
func (c *Cart) BindSerializedUnits(index int, unitIDs []int64, available map[int64]struct{}) error {
	line, err := c.line(index)
	if err != nil {
		return err
	}
	if len(unitIDs) != line.Quantity {
		return fmt.Errorf("need %d units, got %d: %w", line.Quantity, len(unitIDs), ErrUnitCountMismatch)
	}
	selected := make(map[int64]struct{}, len(unitIDs))
	for _, id := range unitIDs {
		if _, ok := available[id]; !ok {
			return fmt.Errorf("unit %d: %w", id, ErrUnitNotAvailable)
		}
		selected[id] = struct{}{}
	}
	if len(selected) != line.Quantity {
		return fmt.Errorf("duplicate unit ids: %w", ErrUnitCountMismatch)
	}
	line.UnitTracking = true
	line.unitIDs = selected
	return nil
}

// RemoveLine deletes the line at the given index.
func (c *Cart) RemoveLine(index int) error {
	if _, err := c.line(index); err != nil {
		return err
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

// Clear empties the cart and resets the transaction context to defaults.
func (c *Cart) Clear() {
	c.lines = nil
	c.ctx = DefaultContext()
}

// Len returns the number of lines.
func (c *Cart) Len() int { return len(c.lines) }

// Lines returns the lines in insertion order.
func (c *Cart) Lines() []*Line { return c.lines }

// Line returns the line at index.
func (c *Cart) Line(index int) (*Line, error) { return c.line(index) }

// Context returns the transaction context.
func (c *Cart) Context() Context { return c.ctx }

// SetContext replaces the transaction context.
func (c *Cart) SetContext(ctx Context) { c.ctx = ctx }

// IsSubmittable reports whether the cart can be submitted: it is non-empty,
// every line has quantity >= 1 and every line is either fully bound or has
// no serialized units to bind.
func (c *Cart) IsSubmittable() bool {
	if len(c.lines) == 0 {
		return false
	}
	for _, line := range c.lines {
		if line.Quantity < 1 {
			return false
		}
		if !line.Binding().Submittable() {
			return false
		}
	}
	return true
}

// BillingLines converts cart lines into calculator input.
func (c *Cart) BillingLines() []billing.Line {
	out := make([]billing.Line, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, billing.Line{
			Qty:       line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.Discount,
		})
	}
	return out
}

// Totals recomputes the billing summary from the current lines and context.
func (c *Cart) Totals() billing.Summary {
	return billing.Compute(c.BillingLines(), c.ctx.DiscountPercent, c.ctx.TaxPercent, c.ctx.Type)
}

func (c *Cart) line(index int) (*Line, error) {
	if index < 0 || index >= len(c.lines) {
		return nil, fmt.Errorf("index %d: %w", index, ErrLineNotFound)
	}
	return c.lines[index], nil
}
