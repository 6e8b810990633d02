// Package services – PaymentService
//
// This file implements the payment reconciliation engine: order creation
// against the gateway, client-side signature verification, webhook ingestion,
// and refund orchestration. The engine holds no state of its own; every
// decision reads the persisted payment status and advances it with a
// conditional write, so a client verification racing the gateway webhook
// converges on exactly one COMPLETED transition (idempotent convergence, not
// a conflict).
//
// Every transition attempt — successful or not — is recorded as an
// append-only PaymentEvent carrying the raw gateway payload.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/gateway"
	"github.com/brokerfree/rental-backend/internal/repo"
)

// Gateway webhook event names.
const (
	webhookPaymentAuthorized = "payment.authorized"
	webhookPaymentCompleted  = "payment.completed"
	webhookPaymentFailed     = "payment.failed"
	webhookRefundCompleted   = "refund.completed"
)

// PaymentService coordinates the payment lifecycle for completed deals.
type PaymentService struct {
	DB      *gorm.DB
	Gateway gateway.Client

	// KeySecret keys the client-side payment verification signature.
	KeySecret string
	// WebhookSecret keys webhook body signatures; distinct from KeySecret.
	WebhookSecret string
	// Currency is the gateway currency code, e.g. "INR".
	Currency string
}

// OrderResult is returned to the client so it can open the gateway checkout.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
}

// PaymentDetail is a payment with its audit trail, newest event first.
type PaymentDetail struct {
	Payment domain.Payment       `json:"payment"`
	Events  []domain.PaymentEvent `json:"events"`
}

// CreateOrder registers a gateway order for the deal's success fee and
// upserts the Payment row. amount is in minor units (paise).
//
// Fails with ErrDealNotFound when the deal does not exist, ErrDealNotCompleted
// when the deal has not completed, and ErrAlreadyPaid when the deal's payment
// already captured. A gateway failure surfaces as gateway.ErrUnavailable with
// no local state change.
func (s *PaymentService) CreateOrder(ctx context.Context, dealID string, amount int64, description, payerID, email, phone, userName string) (*OrderResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "CreateOrder",
		trace.WithAttributes(
			attribute.String("deal.id", dealID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	deal, err := repo.GetDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	if deal.Status != domain.DealCompleted {
		return nil, ErrDealNotCompleted
	}

	existing, err := repo.GetPaymentByDeal(ctx, s.DB, dealID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == domain.PaymentCompleted {
		return nil, ErrAlreadyPaid
	}

	order, err := s.Gateway.CreateOrder(ctx, amount, s.Currency, dealID, map[string]string{
		"deal_id":  dealID,
		"payer_id": payerID,
		"email":    email,
		"phone":    phone,
		"name":     userName,
	})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(map[string]any{
		"order_id": order.ID,
		"amount":   amount,
		"currency": order.Currency,
		"payer_id": payerID,
	})

	var paymentID string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing == nil {
			p := &domain.Payment{
				DealID:      dealID,
				PayerID:     payerID,
				Amount:      amount,
				Description: description,
				OrderID:     order.ID,
				Status:      domain.PaymentInitiated,
			}
			cerr := repo.CreatePayment(ctx, tx, p)
			if cerr == nil {
				paymentID = p.ID
				return repo.AppendPaymentEvent(ctx, tx, p.ID, domain.EventPaymentInitiated, domain.OutcomeSuccess, string(raw), nil)
			}
			if !repo.IsUniqueViolation(cerr) {
				return cerr
			}
			// Lost the creation race; reuse the winner's row.
			existing, cerr = repo.GetPaymentByDeal(ctx, tx, dealID)
			if cerr != nil {
				return cerr
			}
		}

		if uerr := repo.ResetPaymentOrder(ctx, tx, existing.ID, order.ID, amount, payerID, description); uerr != nil {
			if errors.Is(uerr, repo.ErrStaleStatus) {
				return ErrAlreadyPaid
			}
			return uerr
		}
		paymentID = existing.ID
		return repo.AppendPaymentEvent(ctx, tx, existing.ID, domain.EventPaymentInitiated, domain.OutcomeSuccess, string(raw), nil)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("deal_id", dealID).
		Str("payment_id", paymentID).
		Str("order_id", order.ID).
		Int64("amount", amount).
		Msg("payment order created")

	return &OrderResult{OrderID: order.ID, Amount: amount, Currency: order.Currency}, nil
}

// VerifyPayment applies the client-side capture callback. The expected
// signature is HMAC-SHA256 over "orderID|paymentRef" keyed with the gateway
// key secret; a mismatch is recorded as a FAILED audit event before
// ErrInvalidSignature is returned, because a failed verification attempt is
// itself a security-relevant fact.
//
// The happy path races the payment.completed webhook by design: the
// COMPLETED transition is conditioned on the pre-transition status, the
// losing writer observes the already-completed payment and returns success.
func (s *PaymentService) VerifyPayment(ctx context.Context, orderID, paymentRef, signature, dealID string) (*domain.Payment, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "VerifyPayment",
		trace.WithAttributes(
			attribute.String("deal.id", dealID),
			attribute.String("order.id", orderID),
		),
	)
	defer span.End()

	p, err := repo.GetPaymentByDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.OrderID != orderID {
		return nil, ErrOrderMismatch
	}

	raw, _ := json.Marshal(map[string]string{
		"order_id":    orderID,
		"payment_ref": paymentRef,
		"signature":   signature,
	})

	if !gateway.VerifyPaymentSignature(orderID, paymentRef, signature, s.KeySecret) {
		msg := ErrInvalidSignature.Error()
		if aerr := repo.AppendPaymentEvent(ctx, s.DB, p.ID, domain.EventSignatureVerifyFail, domain.OutcomeFailed, string(raw), &msg); aerr != nil {
			log.Error().Err(aerr).Str("payment_id", p.ID).Msg("failed to record signature failure")
		}
		log.Warn().
			Str("deal_id", dealID).
			Str("payment_id", p.ID).
			Str("order_id", orderID).
			Msg("payment signature verification failed")
		return nil, ErrInvalidSignature
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merr := repo.MarkPaymentCompleted(ctx, tx, p.ID, paymentRef, &signature, nil)
		if errors.Is(merr, repo.ErrStaleStatus) {
			// Webhook won the race, or the payment already moved past
			// COMPLETED; either way the transition is not ours to make.
			return nil
		}
		if merr != nil {
			return merr
		}
		if derr := repo.MarkDealPaid(ctx, tx, p.DealID, paymentRef); derr != nil {
			return derr
		}
		return repo.AppendPaymentEvent(ctx, tx, p.ID, domain.EventPaymentCompleted, domain.OutcomeSuccess, string(raw), nil)
	})
	if err != nil {
		return nil, err
	}

	return repo.GetPaymentByDeal(ctx, s.DB, dealID)
}

// webhookEnvelope is the gateway's webhook body shape.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Method  string `json:"method"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// HandleWebhook verifies and applies one gateway webhook delivery.
//
// The signature is HMAC-SHA256 over the exact raw body keyed with the webhook
// secret; a mismatch fails closed with ErrInvalidWebhookSignature. The HTTP
// boundary still acknowledges the delivery with a 200 — the gateway would
// otherwise retry a request that can never pass validation.
//
// Events naming an order or payment this system never persisted are ignored
// (the gateway also notifies about foreign/test traffic) and logged as
// orphans. Unknown event names are logged and skipped.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "HandleWebhook")
	defer span.End()

	if !gateway.VerifyWebhookSignature(body, signature, s.WebhookSecret) {
		log.Warn().Msg("webhook signature verification failed")
		return ErrInvalidWebhookSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("malformed webhook body: %w", err)
	}
	span.SetAttributes(attribute.String("webhook.event", env.Event))

	switch env.Event {
	case webhookPaymentAuthorized:
		return s.applyAuthorized(ctx, env, body)
	case webhookPaymentCompleted:
		return s.applyCompleted(ctx, env, body)
	case webhookPaymentFailed:
		return s.applyFailed(ctx, env, body)
	case webhookRefundCompleted:
		return s.applyRefundCompleted(ctx, env, body)
	default:
		log.Info().Str("event", env.Event).Msg("unhandled webhook event")
		return nil
	}
}

// applyAuthorized records an audit row only: authorization precedes capture
// and changes no payment state.
func (s *PaymentService) applyAuthorized(ctx context.Context, env webhookEnvelope, body []byte) error {
	p, err := repo.GetPaymentByOrder(ctx, s.DB, env.Payload.Payment.Entity.OrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logOrphan(env)
			return nil
		}
		return err
	}
	return repo.AppendPaymentEvent(ctx, s.DB, p.ID, domain.EventPaymentAuthorized, domain.OutcomeSuccess, string(body), nil)
}

// applyCompleted captures the payment. Lookup prefers the stored gateway
// payment id and falls back to the order id, since a webhook-first capture
// arrives before any verification recorded the payment id.
func (s *PaymentService) applyCompleted(ctx context.Context, env webhookEnvelope, body []byte) error {
	entity := env.Payload.Payment.Entity
	p, err := repo.GetPaymentByRef(ctx, s.DB, entity.ID)
	if errors.Is(err, repo.ErrNotFound) && entity.OrderID != "" {
		p, err = repo.GetPaymentByOrder(ctx, s.DB, entity.OrderID)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logOrphan(env)
			return nil
		}
		return err
	}

	var method *string
	if entity.Method != "" {
		method = &entity.Method
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merr := repo.MarkPaymentCompleted(ctx, tx, p.ID, entity.ID, nil, method)
		if errors.Is(merr, repo.ErrStaleStatus) {
			// Already completed via verification, or already refunded;
			// idempotent no-op.
			return nil
		}
		if merr != nil {
			return merr
		}
		if derr := repo.MarkDealPaid(ctx, tx, p.DealID, entity.ID); derr != nil {
			return derr
		}
		return repo.AppendPaymentEvent(ctx, tx, p.ID, domain.EventPaymentCompleted, domain.OutcomeSuccess, string(body), nil)
	})
}

func (s *PaymentService) applyFailed(ctx context.Context, env webhookEnvelope, body []byte) error {
	p, err := repo.GetPaymentByOrder(ctx, s.DB, env.Payload.Payment.Entity.OrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logOrphan(env)
			return nil
		}
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merr := repo.MarkPaymentFailed(ctx, tx, p.ID)
		if errors.Is(merr, repo.ErrStaleStatus) {
			// Payment is no longer INITIATED (completed or already failed).
			return nil
		}
		if merr != nil {
			return merr
		}
		return repo.AppendPaymentEvent(ctx, tx, p.ID, domain.EventPaymentFailed, domain.OutcomeFailed, string(body), nil)
	})
}

func (s *PaymentService) applyRefundCompleted(ctx context.Context, env webhookEnvelope, body []byte) error {
	p, err := repo.GetPaymentByRef(ctx, s.DB, env.Payload.Refund.Entity.PaymentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logOrphan(env)
			return nil
		}
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merr := repo.MarkPaymentRefunded(ctx, tx, p.ID)
		if errors.Is(merr, repo.ErrStaleStatus) {
			return nil
		}
		if merr != nil {
			return merr
		}
		return repo.AppendPaymentEvent(ctx, tx, p.ID, domain.EventRefundCompleted, domain.OutcomeSuccess, string(body), nil)
	})
}

// logOrphan surfaces webhooks that matched no persisted payment. A burst of
// orphans usually means a secret/environment misconfiguration rather than
// test traffic.
func (s *PaymentService) logOrphan(env webhookEnvelope) {
	log.Warn().
		Str("event", env.Event).
		Str("order_id", env.Payload.Payment.Entity.OrderID).
		Str("payment_ref", env.Payload.Payment.Entity.ID).
		Str("refund_payment_ref", env.Payload.Refund.Entity.PaymentID).
		Msg("orphan webhook: no matching payment")
}

// Refund initiates a full refund of a captured payment with the gateway.
// The local status stays COMPLETED; only the asynchronous refund.completed
// webhook moves it to REFUNDED, because the gateway is authoritative on
// refund completion timing. A second refund request while one is in flight
// is rejected with ErrRefundInFlight.
func (s *PaymentService) Refund(ctx context.Context, dealID, reason string) error {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Refund",
		trace.WithAttributes(attribute.String("deal.id", dealID)),
	)
	defer span.End()

	p, err := repo.GetPaymentByDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}
	if p.PaymentRef == nil || *p.PaymentRef == "" {
		return ErrPaymentNotFound
	}
	if p.Status != domain.PaymentCompleted {
		return ErrPaymentNotCompleted
	}

	initiated, err := repo.HasPaymentEvent(ctx, s.DB, p.ID, domain.EventRefundInitiated)
	if err != nil {
		return err
	}
	if initiated {
		return ErrRefundInFlight
	}

	refund, err := s.Gateway.RefundPayment(ctx, *p.PaymentRef, p.Amount, map[string]string{
		"deal_id": dealID,
		"reason":  reason,
	})
	if err != nil {
		return err
	}

	raw, _ := json.Marshal(map[string]string{
		"refund_id":   refund.ID,
		"payment_ref": *p.PaymentRef,
		"reason":      reason,
	})
	if err := repo.AppendPaymentEvent(ctx, s.DB, p.ID, domain.EventRefundInitiated, domain.OutcomeSuccess, string(raw), nil); err != nil {
		return err
	}

	log.Info().
		Str("deal_id", dealID).
		Str("payment_id", p.ID).
		Str("refund_id", refund.ID).
		Msg("refund initiated")
	return nil
}

// Details returns the payment and its audit trail for a deal, or (nil, nil)
// when no payment exists — absence is not an error for this read.
func (s *PaymentService) Details(ctx context.Context, dealID string) (*PaymentDetail, error) {
	p, err := repo.GetPaymentByDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	events, err := repo.ListPaymentEvents(ctx, s.DB, p.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentDetail{Payment: *p, Events: events}, nil
}
