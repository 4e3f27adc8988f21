package pos_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/backend"
	"github.com/noah-isme/backend-pos/internal/pos"
	"github.com/noah-isme/backend-pos/internal/session"
)

func newServer(t *testing.T, mock *backend.Mock) *httptest.Server {
	t.Helper()
	store := session.NewStore(time.Hour)
	t.Cleanup(store.Close)
	handler := &pos.Handler{Svc: &pos.Service{
		Sessions: store,
		Backend:  mock,
		Validate: validator.New(),
	}}
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, payload any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope map[string]json.RawMessage
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp, envelope
}

func openSession(t *testing.T, base string) string {
	t.Helper()
	resp, envelope := doJSON(t, http.MethodPost, base+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view pos.SessionView
	require.NoError(t, json.Unmarshal(envelope["data"], &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newServer(t, &backend.Mock{})
	id := openSession(t, srv.URL)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view pos.SessionView
	require.NoError(t, json.Unmarshal(envelope["data"], &view))
	require.Equal(t, "sale", view.Type)
	require.Empty(t, view.Lines)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, envelope = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(envelope["error"]), "SESSION_NOT_FOUND")
}

func TestAddBindSubmitFlow(t *testing.T) {
	mock := &backend.Mock{
		Products: []backend.Product{{
			ID: 7, Name: "Galaxy A54", SKU: "GA54",
			SellingPrice: price("250"), CurrentStock: 5,
		}},
		Units: map[int64][]backend.SerializedUnit{
			7: {{ID: 101, IMEI: "356938035643809"}},
		},
	}
	srv := newServer(t, mock)
	id := openSession(t, srv.URL)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/products?q=galaxy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var products []backend.Product
	require.NoError(t, json.Unmarshal(envelope["data"], &products))
	require.Len(t, products, 1)

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    7,
		"name":         "Galaxy A54",
		"sku":          "GA54",
		"sellingPrice": "250",
		"currentStock": 5,
		"quantity":     1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lineResult pos.LineResult
	require.NoError(t, json.Unmarshal(envelope["data"], &lineResult))
	require.Len(t, lineResult.Units, 1)
	require.Equal(t, "unbound", lineResult.Session.Lines[0].Binding)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines/0/units", map[string]any{
		"unitIds": []int64{101},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(envelope["data"], &lineResult))
	require.Equal(t, "fully_bound", lineResult.Session.Lines[0].Binding)

	resp, envelope = doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result pos.SubmitResult
	require.NoError(t, json.Unmarshal(envelope["data"], &result))
	require.Equal(t, "SALE-000001", result.SaleNumber)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStockClampWarning(t *testing.T) {
	srv := newServer(t, &backend.Mock{})
	id := openSession(t, srv.URL)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "9.90",
		"currentStock": 2,
		"quantity":     10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(envelope["warning"]), "reduced")

	var lineResult pos.LineResult
	require.NoError(t, json.Unmarshal(envelope["data"], &lineResult))
	require.True(t, lineResult.Clamped)
	require.Equal(t, 2, lineResult.Session.Lines[0].Quantity)
}

func TestOutOfStockConflict(t *testing.T) {
	srv := newServer(t, &backend.Mock{})
	id := openSession(t, srv.URL)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "9.90",
		"currentStock": 0,
		"quantity":     1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(envelope["error"]), "OUT_OF_STOCK")
}

func TestSubmitRejectionKeepsSession(t *testing.T) {
	mock := &backend.Mock{SubmitErr: &backend.RejectionError{Status: 409, Message: "stock changed"}}
	srv := newServer(t, mock)
	id := openSession(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "9.90",
		"currentStock": 4,
		"quantity":     2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(envelope["error"]), "SUBMISSION_REJECTED")
	require.Contains(t, string(envelope["error"]), "stock changed")

	resp, envelope = doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view pos.SessionView
	require.NoError(t, json.Unmarshal(envelope["data"], &view))
	require.Len(t, view.Lines, 1)
	require.Equal(t, 2, view.Lines[0].Quantity)
}

func TestBackendUnavailableOnSubmit(t *testing.T) {
	mock := &backend.Mock{SubmitErr: fmt.Errorf("post sale: %w", backend.ErrUnavailable)}
	srv := newServer(t, mock)
	id := openSession(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "9.90",
		"currentStock": 4,
		"quantity":     1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, string(envelope["error"]), "BACKEND_UNAVAILABLE")
}

func TestUpdateContextAndTotals(t *testing.T) {
	srv := newServer(t, &backend.Mock{})
	id := openSession(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "100",
		"currentStock": 10,
		"quantity":     2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := doJSON(t, http.MethodPatch, srv.URL+"/sessions/"+id, map[string]any{
		"discountPercent": "10",
		"taxPercent":      "5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view pos.SessionView
	require.NoError(t, json.Unmarshal(envelope["data"], &view))
	// 200 - 20 discount = 180, + 9 tax = 189
	require.True(t, view.Totals.Total.Equal(price("189")), "got %s", view.Totals.Total)
}

func TestRemoveLineAndMissingIndex(t *testing.T) {
	srv := newServer(t, &backend.Mock{})
	id := openSession(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/lines", map[string]any{
		"productId":    3,
		"name":         "USB-C Cable",
		"sellingPrice": "9.90",
		"currentStock": 4,
		"quantity":     1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id+"/lines/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id+"/lines/0", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(envelope["error"]), "LINE_NOT_FOUND")

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id+"/lines/banana", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
