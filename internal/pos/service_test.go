package pos_test

import (
	"context"
	"testing"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/backend"
	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/pos"
	"github.com/noah-isme/backend-pos/internal/session"
)

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T, mock *backend.Mock) *pos.Service {
	t.Helper()
	store := session.NewStore(time.Hour)
	t.Cleanup(store.Close)
	return &pos.Service{
		Sessions: store,
		Backend:  mock,
		Validate: validator.New(),
	}
}

func phoneProduct() pos.AddLineInput {
	return pos.AddLineInput{
		ProductID:    7,
		Name:         "Galaxy A54",
		SKU:          "GA54",
		SellingPrice: price("250"),
		CurrentStock: 5,
		Quantity:     1,
	}
}

func TestAddLineProbesUnitAvailability(t *testing.T) {
	mock := &backend.Mock{Units: map[int64][]backend.SerializedUnit{
		7: {{ID: 101, IMEI: "356938035643809"}, {ID: 102, IMEI: "356938035643810"}},
	}}
	svc := newService(t, mock)

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	res, err := svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	require.Equal(t, "unbound", res.Session.Lines[0].Binding)
	require.False(t, res.Session.Submittable)
}

func TestAddLineWithoutUnitsIsSubmittable(t *testing.T) {
	svc := newService(t, &backend.Mock{})

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	res, err := svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)
	require.Empty(t, res.Units)
	require.Equal(t, "not_applicable", res.Session.Lines[0].Binding)
	require.True(t, res.Session.Submittable)
}

func TestAddLineClampsToStock(t *testing.T) {
	svc := newService(t, &backend.Mock{})

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	in := phoneProduct()
	in.CurrentStock = 3
	in.Quantity = 9
	res, err := svc.AddLine(context.Background(), sess.ID, in)
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Equal(t, 3, res.Session.Lines[0].Quantity)
}

func TestAddLineOutOfStock(t *testing.T) {
	svc := newService(t, &backend.Mock{})

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	in := phoneProduct()
	in.CurrentStock = 0
	_, err = svc.AddLine(context.Background(), sess.ID, in)
	require.ErrorIs(t, err, cart.ErrOutOfStock)

	view, err := svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Empty(t, view.Lines)
}

func TestBindUnitsRevalidatesAvailability(t *testing.T) {
	mock := &backend.Mock{Units: map[int64][]backend.SerializedUnit{
		7: {{ID: 101, IMEI: "356938035643809"}, {ID: 102, IMEI: "356938035643810"}},
	}}
	svc := newService(t, mock)

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	in := phoneProduct()
	in.Quantity = 2
	_, err = svc.AddLine(context.Background(), sess.ID, in)
	require.NoError(t, err)

	// a unit another till has consumed is rejected
	_, err = svc.BindUnits(context.Background(), sess.ID, 0, pos.BindUnitsInput{UnitIDs: []int64{101, 999}})
	require.ErrorIs(t, err, cart.ErrUnitNotAvailable)

	res, err := svc.BindUnits(context.Background(), sess.ID, 0, pos.BindUnitsInput{UnitIDs: []int64{101, 102}})
	require.NoError(t, err)
	require.Equal(t, "fully_bound", res.Session.Lines[0].Binding)
	require.Equal(t, []int64{101, 102}, res.Session.Lines[0].SerializedUnitIDs)
	require.True(t, res.Session.Submittable)
}

func TestQuantityChangeClearsBinding(t *testing.T) {
	mock := &backend.Mock{Units: map[int64][]backend.SerializedUnit{
		7: {{ID: 101, IMEI: "356938035643809"}, {ID: 102, IMEI: "356938035643810"}},
	}}
	svc := newService(t, mock)

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)
	_, err = svc.BindUnits(context.Background(), sess.ID, 0, pos.BindUnitsInput{UnitIDs: []int64{101}})
	require.NoError(t, err)

	qty := 2
	res, err := svc.UpdateLine(context.Background(), sess.ID, 0, pos.UpdateLineInput{Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, "unbound", res.Session.Lines[0].Binding)
	require.Empty(t, res.Session.Lines[0].SerializedUnitIDs)
}

func TestUpdateContextValidatesPercents(t *testing.T) {
	svc := newService(t, &backend.Mock{})

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)

	over := price("101")
	_, err = svc.UpdateContext(context.Background(), sess.ID, pos.ContextInput{DiscountPercent: &over})
	require.Error(t, err)

	bad := "refund"
	_, err = svc.UpdateContext(context.Background(), sess.ID, pos.ContextInput{Type: &bad})
	require.Error(t, err)
}

func TestSubmitSendsSaleAndClosesSession(t *testing.T) {
	mock := &backend.Mock{Units: map[int64][]backend.SerializedUnit{
		7: {{ID: 101, IMEI: "356938035643809"}},
	}}
	svc := newService(t, mock)
	var captured []events.Event
	svc.Events = &events.Bus{Notifiers: []events.Notifier{notifierFunc(func(_ context.Context, ev events.Event) error {
		captured = append(captured, ev)
		return nil
	})}}

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)
	_, err = svc.BindUnits(context.Background(), sess.ID, 0, pos.BindUnitsInput{UnitIDs: []int64{101}})
	require.NoError(t, err)

	tax := price("10")
	name := "Jordan"
	method := "cash"
	_, err = svc.UpdateContext(context.Background(), sess.ID, pos.ContextInput{
		TaxPercent:    &tax,
		CustomerName:  &name,
		PaymentMethod: &method,
	})
	require.NoError(t, err)

	result, err := svc.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "SALE-000001", result.SaleNumber)

	require.NotNil(t, mock.LastSale)
	require.Equal(t, "sale", mock.LastSale.TransactionType)
	require.Equal(t, "Jordan", mock.LastSale.CustomerName)
	require.Len(t, mock.LastSale.Items, 1)
	require.Equal(t, []int64{101}, mock.LastSale.Items[0].IMEIIDs)
	require.True(t, mock.LastSale.TaxPercentage.Equal(tax))

	_, err = svc.GetSession(context.Background(), sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)

	topics := make([]string, 0, len(captured))
	for _, ev := range captured {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicSaleCompleted)
	require.Contains(t, topics, events.TopicSessionClosed)
}

func TestSubmitBlockedUntilUnitsBound(t *testing.T) {
	mock := &backend.Mock{Units: map[int64][]backend.SerializedUnit{
		7: {{ID: 101, IMEI: "356938035643809"}},
	}}
	svc := newService(t, mock)

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), sess.ID)
	require.ErrorIs(t, err, pos.ErrNotSubmittable)
}

func TestSubmitRejectionPreservesCart(t *testing.T) {
	mock := &backend.Mock{SubmitErr: &backend.RejectionError{Status: 409, Message: "stock changed"}}
	svc := newService(t, mock)

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), sess.ID)
	rej, ok := backend.IsRejection(err)
	require.True(t, ok)
	require.Equal(t, "stock changed", rej.Message)

	view, err := svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.Equal(t, 1, view.Lines[0].Quantity)
}

func TestReturnTotalsAreNegative(t *testing.T) {
	svc := newService(t, &backend.Mock{})

	sess, err := svc.OpenSession(context.Background())
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sess.ID, phoneProduct())
	require.NoError(t, err)

	typ := "return"
	view, err := svc.UpdateContext(context.Background(), sess.ID, pos.ContextInput{Type: &typ})
	require.NoError(t, err)
	require.True(t, view.Totals.Total.IsNegative(), "return total should be negative, got %s", view.Totals.Total)
}

type notifierFunc func(ctx context.Context, ev events.Event) error

func (f notifierFunc) Notify(ctx context.Context, ev events.Event) error { return f(ctx, ev) }
