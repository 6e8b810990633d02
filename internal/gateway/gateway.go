// Package gateway wraps the third-party payment processor. It exposes a
// narrow Client capability (remote order creation and refunds) plus the two
// HMAC signature schemes the processor uses: a per-payment verification
// signature and a separate webhook body signature.
//
// The engine does not retry gateway calls; a failed order-create surfaces to
// the caller immediately since the client waits synchronously to proceed to
// payment. All transport and remote-rejection failures are wrapped in
// ErrUnavailable so callers can map them to a single error kind.
package gateway

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the gateway call failed, timed out, or was
// rejected remotely. No local state change may depend on a call that returned
// this error.
var ErrUnavailable = errors.New("payment gateway unavailable or rejected the request")

// Order is the result of a remote order creation.
type Order struct {
	ID       string // gateway order id, echoed back in verification and webhooks
	Currency string
}

// Refund is the result of a remote refund initiation. Completion is reported
// asynchronously via the refund.completed webhook.
type Refund struct {
	ID string
}

// Client is the boundary capability consumed by the payment reconciliation
// engine. Implementations must be safe for concurrent use and honor the
// context deadline.
type Client interface {
	// CreateOrder registers a payable order for amount in minor currency
	// units (paise) and returns the gateway order id.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error)

	// RefundPayment initiates a full refund of a captured payment identified
	// by the gateway payment id.
	RefundPayment(ctx context.Context, paymentRef string, amount int64, notes map[string]string) (*Refund, error)
}
