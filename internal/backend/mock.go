package backend

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Mock is an in-memory Client for tests and local development.
type Mock struct {
	Products []Product
	Units    map[int64][]SerializedUnit

	// SubmitErr, when set, is returned from SubmitSale instead of a
	// synthesized success.
	SubmitErr error

	saleSeq  atomic.Int64
	LastSale *SaleRequest
}

// SearchProducts matches the query against name, SKU, brand and model.
func (m *Mock) SearchProducts(_ context.Context, query string) ([]Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return m.Products, nil
	}
	var out []Product
	for _, p := range m.Products {
		haystack := strings.ToLower(p.Name + " " + p.SKU + " " + p.BrandName + " " + p.ModelName)
		if strings.Contains(haystack, q) {
			out = append(out, p)
		}
	}
	return out, nil
}

// AvailableUnits returns the configured units for the product.
func (m *Mock) AvailableUnits(_ context.Context, productID int64) ([]SerializedUnit, error) {
	return m.Units[productID], nil
}

// SubmitSale records the request and fabricates a sale number, summing the
// line amounts the way the backend would.
func (m *Mock) SubmitSale(_ context.Context, req SaleRequest) (SaleResponse, error) {
	if m.SubmitErr != nil {
		return SaleResponse{}, m.SubmitErr
	}
	m.LastSale = &req
	total := decimal.Zero
	for _, item := range req.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return SaleResponse{
		Success:     true,
		SaleNumber:  fmt.Sprintf("SALE-%06d", m.saleSeq.Add(1)),
		TotalAmount: total,
	}, nil
}
