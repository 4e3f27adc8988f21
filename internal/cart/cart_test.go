package cart_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/billing"
	"github.com/noah-isme/backend-pos/internal/cart"
)

func phone(stock int) cart.ProductSnapshot {
	return cart.ProductSnapshot{
		ID:           101,
		Name:         "Galaxy A16",
		SKU:          "SM-A165",
		SellingPrice: decimal.RequireFromString("250.00"),
		CurrentStock: stock,
	}
}

func charger() cart.ProductSnapshot {
	return cart.ProductSnapshot{
		ID:           202,
		Name:         "25W charger",
		SKU:          "EP-T2510",
		SellingPrice: decimal.RequireFromString("19.90"),
		CurrentStock: 40,
	}
}

func avail(ids ...int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestAddProductOutOfStock(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(0), 1)
	require.ErrorIs(t, err, cart.ErrOutOfStock)
	require.Zero(t, c.Len())
}

func TestAddProductMergesAndClamps(t *testing.T) {
	c := cart.New()
	res, err := c.AddProduct(phone(3), 2)
	require.NoError(t, err)
	require.False(t, res.Clamped)
	require.Equal(t, 2, res.Line.Quantity)

	// Same product again with more than the stock snapshot allows.
	res, err = c.AddProduct(phone(3), 5)
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Equal(t, 0, res.Index)
	require.Equal(t, 3, res.Line.Quantity)
	require.Equal(t, 1, c.Len())
}

func TestAddProductPreservesInsertionOrder(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(5), 1)
	require.NoError(t, err)
	_, err = c.AddProduct(charger(), 2)
	require.NoError(t, err)

	lines := c.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, int64(101), lines[0].ProductID)
	require.Equal(t, int64(202), lines[1].ProductID)
}

func TestSetQuantityClampsAndClearsUnits(t *testing.T) {
	c := cart.New()
	res, err := c.AddProduct(phone(5), 2)
	require.NoError(t, err)
	require.NoError(t, c.BindSerializedUnits(res.Index, []int64{11, 12}, avail(11, 12, 13)))
	require.Equal(t, cart.BindingFull, res.Line.Binding())

	res, err = c.SetQuantity(0, 3)
	require.NoError(t, err)
	require.False(t, res.Clamped)
	require.Zero(t, res.Line.BoundCount(), "quantity change must clear bound units")
	require.Equal(t, cart.BindingUnbound, res.Line.Binding())

	res, err = c.SetQuantity(0, 99)
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Equal(t, 5, res.Line.Quantity)

	res, err = c.SetQuantity(0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Line.Quantity, "lower bound is 1")
}

func TestAdjustQuantity(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(5), 2)
	require.NoError(t, err)

	res, err := c.AdjustQuantity(0, 1)
	require.NoError(t, err)
	require.Equal(t, 3, res.Line.Quantity)

	res, err = c.AdjustQuantity(0, -10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Line.Quantity)

	_, err = c.AdjustQuantity(7, 1)
	require.ErrorIs(t, err, cart.ErrLineNotFound)
}

func TestBindSerializedUnitsGate(t *testing.T) {
	c := cart.New()
	res, err := c.AddProduct(phone(5), 3)
	require.NoError(t, err)
	require.NoError(t, c.SetUnitTracking(res.Index, true))

	// Too few ids: rejected, line untouched.
	err = c.BindSerializedUnits(res.Index, []int64{11, 12}, avail(11, 12, 13))
	require.ErrorIs(t, err, cart.ErrUnitCountMismatch)
	require.Zero(t, res.Line.BoundCount())
	require.Equal(t, cart.BindingUnbound, res.Line.Binding())

	// Duplicate ids collapse below the required count: rejected.
	err = c.BindSerializedUnits(res.Index, []int64{11, 11, 12}, avail(11, 12, 13))
	require.ErrorIs(t, err, cart.ErrUnitCountMismatch)
	require.Zero(t, res.Line.BoundCount())

	// An id outside the candidate set: rejected.
	err = c.BindSerializedUnits(res.Index, []int64{11, 12, 99}, avail(11, 12, 13))
	require.ErrorIs(t, err, cart.ErrUnitNotAvailable)
	require.Zero(t, res.Line.BoundCount())

	require.NoError(t, c.BindSerializedUnits(res.Index, []int64{11, 12, 13}, avail(11, 12, 13)))
	require.Equal(t, 3, res.Line.BoundCount())
	require.Equal(t, cart.BindingFull, res.Line.Binding())
	require.ElementsMatch(t, []int64{11, 12, 13}, res.Line.SerializedUnitIDs())
}

func TestBindingStates(t *testing.T) {
	line := &cart.Line{Quantity: 2}
	require.Equal(t, cart.BindingNotApplicable, line.Binding())
	require.True(t, line.Binding().Submittable())

	line.UnitTracking = true
	require.Equal(t, cart.BindingUnbound, line.Binding())
	require.False(t, line.Binding().Submittable())
}

func TestIsSubmittable(t *testing.T) {
	c := cart.New()
	require.False(t, c.IsSubmittable(), "empty cart never submits")

	res, err := c.AddProduct(phone(5), 2)
	require.NoError(t, err)
	require.True(t, c.IsSubmittable(), "untracked line needs no binding")

	require.NoError(t, c.SetUnitTracking(res.Index, true))
	require.False(t, c.IsSubmittable(), "unbound tracked line blocks submission")

	require.NoError(t, c.BindSerializedUnits(res.Index, []int64{11, 12}, avail(11, 12)))
	require.True(t, c.IsSubmittable())

	// A quantity change invalidates the binding again.
	_, err = c.SetQuantity(res.Index, 3)
	require.NoError(t, err)
	require.False(t, c.IsSubmittable())
}

func TestRemoveLine(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(5), 1)
	require.NoError(t, err)
	_, err = c.AddProduct(charger(), 1)
	require.NoError(t, err)

	require.NoError(t, c.RemoveLine(0))
	require.Equal(t, 1, c.Len())
	require.Equal(t, int64(202), c.Lines()[0].ProductID)

	require.ErrorIs(t, c.RemoveLine(5), cart.ErrLineNotFound)
}

func TestClearResetsContext(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(5), 1)
	require.NoError(t, err)
	c.SetContext(cart.Context{
		Type:            billing.TypeReturn,
		DiscountPercent: decimal.RequireFromString("10"),
		TaxPercent:      decimal.RequireFromString("5"),
		Customer:        cart.Customer{Name: "Ayu"},
		PaymentMethod:   "cash",
	})

	c.Clear()
	require.Zero(t, c.Len())
	ctx := c.Context()
	require.Equal(t, billing.TypeSale, ctx.Type)
	require.True(t, ctx.DiscountPercent.IsZero())
	require.True(t, ctx.TaxPercent.IsZero())
	require.Empty(t, ctx.Customer.Name)
	require.Empty(t, ctx.PaymentMethod)
}

func TestTotalsFollowContext(t *testing.T) {
	c := cart.New()
	_, err := c.AddProduct(phone(5), 2)
	require.NoError(t, err)
	_, err = c.AddProduct(cart.ProductSnapshot{
		ID: 303, Name: "Case", SKU: "CS-1",
		SellingPrice: decimal.RequireFromString("50.00"), CurrentStock: 9,
	}, 1)
	require.NoError(t, err)
	c.SetContext(cart.Context{
		Type:            billing.TypeSale,
		DiscountPercent: decimal.RequireFromString("10"),
		TaxPercent:      decimal.RequireFromString("5"),
	})

	sum := c.Totals()
	require.True(t, sum.Subtotal.Equal(decimal.RequireFromString("550")), "subtotal %s", sum.Subtotal)

	ctx := c.Context()
	ctx.Type = billing.TypeReturn
	c.SetContext(ctx)
	ret := c.Totals()
	require.True(t, ret.Subtotal.Equal(decimal.RequireFromString("-550")), "subtotal %s", ret.Subtotal)
}
