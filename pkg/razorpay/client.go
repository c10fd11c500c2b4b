// Package razorpay is a thin client for the Razorpay orders, capture and
// refund APIs.
package razorpay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/metrics"
)

const (
	opCreateOrder = "create_order"
	opCapture     = "capture"
	opRefund      = "refund"
	opFetch       = "fetch_payment"
)

var (
	// ErrNotConfigured is returned when key id or key secret is missing.
	ErrNotConfigured = errors.New("razorpay credentials are not configured")
	// ErrTimeout means the request outcome is unknown.
	ErrTimeout = errors.New("razorpay request timed out")
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("razorpay: status %d", e.StatusCode)
	}
	return fmt.Sprintf("razorpay: %s (%d): %s", e.Code, e.StatusCode, e.Description)
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type Order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    Notes             `json:"notes,omitempty"`
}

type Payment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Captured  bool   `json:"captured"`
	CreatedAt int64  `json:"created_at"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type captureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type refundRequest struct {
	Amount int64             `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

// Client calls the gateway REST API with basic auth and a per-request timeout.
type Client struct {
	http       *resty.Client
	keyID      string
	configured bool
	metrics    *metrics.PaymentMetrics
}

func NewClient(cfg config.GatewayConfig, m *metrics.PaymentMetrics) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{
		http:       httpClient,
		keyID:      cfg.KeyID,
		configured: cfg.Configured(),
		metrics:    m,
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.configured
}

// KeyID is the public key the browser checkout needs.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var out Order
	if err := c.post(ctx, opCreateOrder, "/v1/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CapturePayment captures amount minor units of an authorized payment.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*Payment, error) {
	var out Payment
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/capture"
	if err := c.post(ctx, opCapture, path, captureRequest{Amount: amount, Currency: currency}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundPayment refunds amount minor units; zero refunds the remaining balance.
func (c *Client) RefundPayment(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error) {
	var out Refund
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := c.post(ctx, opRefund, path, refundRequest{Amount: amount, Notes: notes}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPayment reads a payment as the gateway currently sees it.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, opFetch, resty.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	return c.do(ctx, op, resty.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	started := time.Now()
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&errorEnvelope{})
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		c.metrics.ObserveGateway(op, metrics.ResultFailure, time.Since(started))
		if isTimeout(err) {
			return fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		c.metrics.ObserveGateway(op, metrics.ResultFailure, time.Since(started))
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if env, ok := resp.Error().(*errorEnvelope); ok && env != nil {
			apiErr.Code = env.Error.Code
			apiErr.Description = env.Error.Description
		}
		return apiErr
	}
	c.metrics.ObserveGateway(op, metrics.ResultSuccess, time.Since(started))
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
