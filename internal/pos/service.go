package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/backend"
	"github.com/noah-isme/backend-pos/internal/billing"
	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/session"
)

// ErrNotSubmittable indicates the cart fails a submission precondition:
// it is empty or a line with serialized units is not fully bound.
var ErrNotSubmittable = errors.New("cart not ready for submission")

// Service orchestrates POS sessions against the retail backend. Carts are
// mutated only through it; the backend remains the authority on stock and
// the persisted sale.
type Service struct {
	Sessions *session.Store
	Backend  backend.Client
	Events   *events.Bus
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// AddLineInput carries the catalog snapshot captured at add time. Later
// catalog changes do not propagate into the cart.
type AddLineInput struct {
	ProductID    int64           `json:"productId" validate:"required,gt=0"`
	Name         string          `json:"name" validate:"required"`
	SKU          string          `json:"sku"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	CurrentStock int             `json:"currentStock" validate:"gte=0"`
	Quantity     int             `json:"quantity"`
}

// LineDiscountInput describes a per-line discount.
type LineDiscountInput struct {
	Kind  string          `json:"kind" validate:"required,oneof=flat percent"`
	Value decimal.Decimal `json:"value"`
}

// UpdateLineInput mutates one cart line. Nil fields are left unchanged.
// Quantity and Delta are mutually exclusive.
type UpdateLineInput struct {
	Quantity *int               `json:"quantity"`
	Delta    *int               `json:"delta"`
	Discount *LineDiscountInput `json:"discount"`
}

// ContextInput partially updates the transaction context. Nil fields are
// left unchanged.
type ContextInput struct {
	Type             *string          `json:"type" validate:"omitempty,oneof=sale return exchange"`
	DiscountPercent  *decimal.Decimal `json:"discountPercent"`
	TaxPercent       *decimal.Decimal `json:"taxPercent"`
	CustomerName     *string          `json:"customerName"`
	CustomerPhone    *string          `json:"customerPhone"`
	CustomerEmail    *string          `json:"customerEmail" validate:"omitempty,email"`
	PaymentMethod    *string          `json:"paymentMethod"`
	PaymentReference *string          `json:"paymentReference"`
}

// BindUnitsInput selects the serialized units for a line.
type BindUnitsInput struct {
	UnitIDs []int64 `json:"unitIds" validate:"required,min=1"`
}

// LineResult reports a line mutation. Clamped flags a quantity that was
// reduced to the available-stock ceiling. Units carries the currently
// available serialized units when the product turned out to be
// unit-tracked, so the caller can prompt for a selection.
type LineResult struct {
	Session SessionView              `json:"session"`
	Index   int                      `json:"index"`
	Clamped bool                     `json:"clamped"`
	Units   []backend.SerializedUnit `json:"availableUnits,omitempty"`
}

// SubmitResult is the backend's authoritative answer to a completed sale.
type SubmitResult struct {
	SaleNumber  string          `json:"saleNumber"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

func (s *Service) ready() error {
	if s == nil || s.Sessions == nil || s.Backend == nil {
		return errors.New("pos service not configured")
	}
	return nil
}

// OpenSession starts a fresh transaction with an empty cart.
func (s *Service) OpenSession(ctx context.Context) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	sess := s.Sessions.Create()
	s.emit(ctx, events.TopicSessionOpened, sess.ID, nil)
	s.trackSessions()
	return snapshot(sess), nil
}

// GetSession returns the current session state.
func (s *Service) GetSession(_ context.Context, id string) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	sess, err := s.Sessions.Get(id)
	if err != nil {
		return SessionView{}, err
	}
	return snapshot(sess), nil
}

// CancelSession discards the session and its cart.
func (s *Service) CancelSession(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.Sessions.Get(id); err != nil {
		return err
	}
	s.Sessions.Delete(id)
	s.emit(ctx, events.TopicSessionClosed, id, map[string]any{"reason": "cancelled"})
	s.trackSessions()
	return nil
}

// SearchProducts proxies a catalog search to the backend.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]backend.Product, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Backend.SearchProducts(ctx, query)
}

// UnitsForProduct lists the serialized units currently available for a product.
func (s *Service) UnitsForProduct(ctx context.Context, productID int64) ([]backend.SerializedUnit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Backend.AvailableUnits(ctx, productID)
}

// AddLine adds the product snapshot to the cart, merging with an existing
// line for the same product. After the add it probes unit availability so
// the caller can prompt for serialized unit selection. The probe is best
// effort; a backend hiccup does not fail the add.
func (s *Service) AddLine(ctx context.Context, sessionID string, in AddLineInput) (LineResult, error) {
	if err := s.ready(); err != nil {
		return LineResult{}, err
	}
	if err := s.validate(in); err != nil {
		return LineResult{}, err
	}
	if in.SellingPrice.IsNegative() {
		return LineResult{}, fmt.Errorf("%w: selling price must not be negative", errValidation)
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return LineResult{}, err
	}
	res, err := sess.Cart.AddProduct(cart.ProductSnapshot{
		ID:           in.ProductID,
		Name:         in.Name,
		SKU:          in.SKU,
		SellingPrice: in.SellingPrice,
		CurrentStock: in.CurrentStock,
	}, in.Quantity)
	if err != nil {
		s.countMutation("add_line", "error")
		return LineResult{}, err
	}

	var units []backend.SerializedUnit
	if probed, probeErr := s.Backend.AvailableUnits(ctx, in.ProductID); probeErr != nil {
		s.Logger.Warn().Err(probeErr).Int64("product_id", in.ProductID).Msg("unit availability probe failed")
	} else if len(probed) > 0 {
		units = probed
		_ = sess.Cart.SetUnitTracking(res.Index, true)
	}

	s.countMutation("add_line", "ok")
	return LineResult{Session: snapshot(sess), Index: res.Index, Clamped: res.Clamped, Units: units}, nil
}

// UpdateLine applies a quantity change, delta, or per-line discount.
func (s *Service) UpdateLine(_ context.Context, sessionID string, index int, in UpdateLineInput) (LineResult, error) {
	if err := s.ready(); err != nil {
		return LineResult{}, err
	}
	if in.Quantity != nil && in.Delta != nil {
		return LineResult{}, fmt.Errorf("%w: quantity and delta are mutually exclusive", errValidation)
	}
	if in.Discount != nil {
		if err := s.validate(*in.Discount); err != nil {
			return LineResult{}, err
		}
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return LineResult{}, err
	}
	clamped := false
	switch {
	case in.Quantity != nil:
		res, qtyErr := sess.Cart.SetQuantity(index, *in.Quantity)
		if qtyErr != nil {
			s.countMutation("set_quantity", "error")
			return LineResult{}, qtyErr
		}
		clamped = res.Clamped
	case in.Delta != nil:
		res, qtyErr := sess.Cart.AdjustQuantity(index, *in.Delta)
		if qtyErr != nil {
			s.countMutation("adjust_quantity", "error")
			return LineResult{}, qtyErr
		}
		clamped = res.Clamped
	}
	if in.Discount != nil {
		d := billing.LineDiscount{Kind: billing.DiscountKind(in.Discount.Kind), Value: in.Discount.Value}
		if discErr := sess.Cart.SetLineDiscount(index, d); discErr != nil {
			return LineResult{}, discErr
		}
	}
	s.countMutation("update_line", "ok")
	return LineResult{Session: snapshot(sess), Index: index, Clamped: clamped}, nil
}

// RemoveLine deletes the line at index.
func (s *Service) RemoveLine(_ context.Context, sessionID string, index int) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Cart.RemoveLine(index); err != nil {
		s.countMutation("remove_line", "error")
		return SessionView{}, err
	}
	s.countMutation("remove_line", "ok")
	return snapshot(sess), nil
}

// UpdateContext partially updates the transaction context.
func (s *Service) UpdateContext(_ context.Context, sessionID string, in ContextInput) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	if err := s.validate(in); err != nil {
		return SessionView{}, err
	}
	if in.DiscountPercent != nil && outOfPercentRange(*in.DiscountPercent) {
		return SessionView{}, fmt.Errorf("%w: discount percent must be between 0 and 100", errValidation)
	}
	if in.TaxPercent != nil && outOfPercentRange(*in.TaxPercent) {
		return SessionView{}, fmt.Errorf("%w: tax percent must be between 0 and 100", errValidation)
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	ctx := sess.Cart.Context()
	if in.Type != nil {
		ctx.Type = billing.TransactionType(*in.Type)
	}
	if in.DiscountPercent != nil {
		ctx.DiscountPercent = *in.DiscountPercent
	}
	if in.TaxPercent != nil {
		ctx.TaxPercent = *in.TaxPercent
	}
	if in.CustomerName != nil {
		ctx.Customer.Name = *in.CustomerName
	}
	if in.CustomerPhone != nil {
		ctx.Customer.Phone = *in.CustomerPhone
	}
	if in.CustomerEmail != nil {
		ctx.Customer.Email = *in.CustomerEmail
	}
	if in.PaymentMethod != nil {
		ctx.PaymentMethod = *in.PaymentMethod
	}
	if in.PaymentReference != nil {
		ctx.PaymentReference = *in.PaymentReference
	}
	sess.Cart.SetContext(ctx)
	return snapshot(sess), nil
}

// BindUnits binds serialized units to the line after revalidating the
// selection against a fresh availability fetch. The backend still has the
// final say at submission; the fetch only narrows the race window.
func (s *Service) BindUnits(ctx context.Context, sessionID string, index int, in BindUnitsInput) (LineResult, error) {
	if err := s.ready(); err != nil {
		return LineResult{}, err
	}
	if err := s.validate(in); err != nil {
		return LineResult{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return LineResult{}, err
	}
	line, err := sess.Cart.Line(index)
	if err != nil {
		return LineResult{}, err
	}
	units, err := s.Backend.AvailableUnits(ctx, line.ProductID)
	if err != nil {
		s.countBind("backend_error")
		return LineResult{}, err
	}
	available := make(map[int64]struct{}, len(units))
	for _, u := range units {
		available[u.ID] = struct{}{}
	}
	if err := sess.Cart.BindSerializedUnits(index, in.UnitIDs, available); err != nil {
		s.countBind("rejected")
		return LineResult{}, err
	}
	s.countBind("ok")
	return LineResult{Session: snapshot(sess), Index: index}, nil
}

// ClearCart empties the cart and resets the transaction context, keeping
// the session alive.
func (s *Service) ClearCart(_ context.Context, sessionID string) (SessionView, error) {
	if err := s.ready(); err != nil {
		return SessionView{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	sess.Cart.Clear()
	s.countMutation("clear", "ok")
	return snapshot(sess), nil
}

// Submit posts the transaction to the backend. On success the session is
// discarded and the backend's sale number and total are returned. On any
// failure the cart is preserved unchanged so the operator can retry.
func (s *Service) Submit(ctx context.Context, sessionID string) (SubmitResult, error) {
	if err := s.ready(); err != nil {
		return SubmitResult{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !sess.Cart.IsSubmittable() {
		return SubmitResult{}, ErrNotSubmittable
	}

	cctx := sess.Cart.Context()
	req := backend.SaleRequest{
		CustomerName:       cctx.Customer.Name,
		CustomerPhone:      cctx.Customer.Phone,
		CustomerEmail:      cctx.Customer.Email,
		TransactionType:    string(cctx.Type),
		DiscountPercentage: cctx.DiscountPercent,
		TaxPercentage:      cctx.TaxPercent,
		PaymentMethod:      cctx.PaymentMethod,
		PaymentReference:   cctx.PaymentReference,
	}
	for _, line := range sess.Cart.Lines() {
		ids := line.SerializedUnitIDs()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		req.Items = append(req.Items, backend.SaleItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			IMEIIDs:   ids,
		})
	}

	resp, err := s.Backend.SubmitSale(ctx, req)
	if err != nil {
		s.countSubmit(string(cctx.Type), submitResultLabel(err))
		s.emit(ctx, events.TopicSaleRejected, sessionID, map[string]any{"reason": err.Error()})
		return SubmitResult{}, err
	}

	s.countSubmit(string(cctx.Type), "success")
	s.emit(ctx, events.TopicSaleCompleted, sessionID, map[string]any{
		"sale_number":  resp.SaleNumber,
		"total_amount": resp.TotalAmount,
		"type":         string(cctx.Type),
	})
	s.Sessions.Delete(sessionID)
	s.emit(ctx, events.TopicSessionClosed, sessionID, map[string]any{"reason": "completed"})
	s.trackSessions()
	return SubmitResult{SaleNumber: resp.SaleNumber, TotalAmount: resp.TotalAmount}, nil
}

// errValidation marks input validation failures so the handler can map
// them to 400 uniformly.
var errValidation = errors.New("invalid input")

func (s *Service) validate(v any) error {
	if s.Validate == nil {
		return nil
	}
	if err := s.Validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", errValidation, err.Error())
	}
	return nil
}

func outOfPercentRange(d decimal.Decimal) bool {
	return d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100))
}

func submitResultLabel(err error) string {
	if errors.Is(err, backend.ErrUnavailable) {
		return "unavailable"
	}
	if _, ok := backend.IsRejection(err); ok {
		return "rejected"
	}
	return "error"
}

func (s *Service) emit(ctx context.Context, topic, sessionID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, sessionID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

func (s *Service) countMutation(op, result string) {
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues(op, result).Inc()
	}
}

func (s *Service) countBind(result string) {
	if obs.UnitBindTotal != nil {
		obs.UnitBindTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countSubmit(typ, result string) {
	if obs.SaleSubmitTotal != nil {
		obs.SaleSubmitTotal.WithLabelValues(typ, result).Inc()
	}
}

func (s *Service) trackSessions() {
	if obs.SessionsActive != nil {
		obs.SessionsActive.Set(float64(s.Sessions.Len()))
	}
}
