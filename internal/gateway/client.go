// Package gateway – REST client.
//
// RESTClient talks to the processor's HTTP API (Razorpay-style: basic auth
// with key id/secret, JSON bodies, /v1/orders and /v1/payments/{id}/refund).
// Every call is bounded by the configured timeout so a slow third party
// cannot stall the confirming request indefinitely.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Config carries the credentials and endpoint of the payment processor.
type Config struct {
	BaseURL       string        // e.g. https://api.razorpay.com
	KeyID         string        // basic auth user
	KeySecret     string        // basic auth password; also keys payment signatures
	WebhookSecret string        // keys webhook body signatures
	Timeout       time.Duration // per-call ceiling; defaults to 5s
}

// RESTClient implements Client against the processor's REST API.
type RESTClient struct {
	cfg  Config
	http *http.Client
}

// NewRESTClient constructs a client with a bounded-timeout HTTP transport.
func NewRESTClient(cfg Config) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RESTClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// KeySecret exposes the per-payment signature secret for verification.
func (c *RESTClient) KeySecret() string { return c.cfg.KeySecret }

// WebhookSecret exposes the webhook signature secret.
func (c *RESTClient) WebhookSecret() string { return c.cfg.WebhookSecret }

type orderRequest struct {
	Amount   int64             `json:"amount"` // minor units
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

type refundRequest struct {
	Amount int64             `json:"amount"` // minor units
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID string `json:"id"`
}

// CreateOrder registers a payable order with the processor.
func (c *RESTClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error) {
	var out orderResponse
	err := c.post(ctx, "/v1/orders", orderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrUnavailable)
	}
	cur := out.Currency
	if cur == "" {
		cur = currency
	}
	return &Order{ID: out.ID, Currency: cur}, nil
}

// RefundPayment initiates a full refund of a captured payment.
func (c *RESTClient) RefundPayment(ctx context.Context, paymentRef string, amount int64, notes map[string]string) (*Refund, error) {
	var out refundResponse
	err := c.post(ctx, "/v1/payments/"+paymentRef+"/refund", refundRequest{
		Amount: amount,
		Notes:  notes,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty refund id", ErrUnavailable)
	}
	return &Refund{ID: out.ID}, nil
}

// post issues an authenticated JSON POST and decodes the response into out.
// Non-2xx responses and transport failures collapse into ErrUnavailable; the
// remote status and a body prefix are logged for diagnosis.
func (c *RESTClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gateway call failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", truncateBody(raw, 256)).
			Msg("gateway rejected request")
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: bad response body", ErrUnavailable)
	}
	return nil
}

func truncateBody(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
