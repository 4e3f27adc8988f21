package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-pos/internal/resilience"
)

// RESTClient talks to the retail backend over its JSON API, guarded by the
// retrying circuit-breaker wrapper.
type RESTClient struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	APIKey  string
}

// NewRESTClient builds a client for the given base URL. Reads are retried;
// sale submission is never retried automatically because the backend call
// is not idempotent.
func NewRESTClient(baseURL string, timeout time.Duration, breaker *resilience.Breaker) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     breaker,
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
			Timeout:     timeout,
		},
	}
}

// SearchProducts implements Client.
func (c *RESTClient) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	endpoint := c.BaseURL + "/api/products/search?q=" + url.QueryEscape(query)
	var out []Product
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableUnits implements Client.
func (c *RESTClient) AvailableUnits(ctx context.Context, productID int64) ([]SerializedUnit, error) {
	endpoint := c.BaseURL + "/api/products/" + strconv.FormatInt(productID, 10) + "/imei?status=available"
	var out []SerializedUnit
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitSale implements Client. A single attempt: whether a timed-out
// submission actually landed is for the operator to resolve against the
// backend, not for a blind retry to guess.
func (c *RESTClient) SubmitSale(ctx context.Context, saleReq SaleRequest) (SaleResponse, error) {
	body, err := json.Marshal(saleReq)
	if err != nil {
		return SaleResponse{}, fmt.Errorf("encode sale: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/sales", bytes.NewReader(body))
	if err != nil {
		return SaleResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	single := c.HTTP
	single.MaxAttempts = 1
	resp, err := single.Do(ctx, req)
	if err != nil {
		return SaleResponse{}, c.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SaleResponse{}, rejectionFrom(resp.StatusCode, resp)
	}
	var out SaleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SaleResponse{}, fmt.Errorf("decode sale response: %w", err)
	}
	if !out.Success {
		return SaleResponse{}, &RejectionError{Status: resp.StatusCode, Message: "backend reported failure"}
	}
	return out, nil
}

func (c *RESTClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return c.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return rejectionFrom(resp.StatusCode, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *RESTClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *RESTClient) unavailable(err error) error {
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// rejectionFrom maps a non-2xx backend answer. The backend signals refusal
// as {"error": "..."} with a 4xx status; 5xx counts as unavailability.
func rejectionFrom(status int, resp *http.Response) error {
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	var payload struct {
		Error string `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &RejectionError{Status: status, Message: message}
}
