package backend

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable indicates the retail backend could not be reached or did
// not answer; the caller's state is untouched and the call is retryable.
var ErrUnavailable = errors.New("backend unavailable")

// RejectionError carries the backend's reason for refusing a submitted
// transaction (stock changed concurrently, validation failure, ...).
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// IsRejection reports whether err is a backend rejection and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Product is a catalog search result. Field names mirror the backend
// wire format and must stay compatible.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	BrandName    string          `json:"brand_name"`
	ModelName    string          `json:"model_name"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CurrentStock int             `json:"current_stock"`
}

// SerializedUnit is one individually tracked physical unit of a product.
type SerializedUnit struct {
	ID   int64  `json:"id"`
	IMEI string `json:"imei"`
}

// SaleItem is one cart line serialized for submission.
type SaleItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IMEIIDs   []int64         `json:"imei_ids"`
}

// SaleRequest is the transaction submission payload.
type SaleRequest struct {
	Items              []SaleItem      `json:"items"`
	CustomerName       string          `json:"customer_name"`
	CustomerPhone      string          `json:"customer_phone"`
	CustomerEmail      string          `json:"customer_email"`
	TransactionType    string          `json:"transaction_type"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	PaymentMethod      string          `json:"payment_method"`
	PaymentReference   string          `json:"payment_reference"`
}

// SaleResponse is the backend's authoritative answer to a submission.
type SaleResponse struct {
	Success     bool            `json:"success"`
	SaleNumber  string          `json:"sale_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Client models the retail backend the POS engine collaborates with. The
// backend owns all persistent state and is the final authority on stock
// and serialized-unit availability.
type Client interface {
	// SearchProducts returns catalog products matching the query string.
	SearchProducts(ctx context.Context, query string) ([]Product, error)
	// AvailableUnits lists the serialized units currently available for
	// the product. An empty list means the product is not unit-tracked.
	AvailableUnits(ctx context.Context, productID int64) ([]SerializedUnit, error)
	// SubmitSale posts the completed transaction. A non-2xx answer maps
	// to *RejectionError, transport failures to ErrUnavailable.
	SubmitSale(ctx context.Context, req SaleRequest) (SaleResponse, error)
}
