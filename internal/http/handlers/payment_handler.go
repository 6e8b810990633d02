// Payment HTTP handlers.
//
// This file exposes REST endpoints for the success-fee payment lifecycle:
//   - POST /payments/order            (create a gateway order for a completed deal)
//   - POST /payments/verify           (client-side capture verification)
//   - GET  /payments/{dealId}         (payment + audit trail; null when absent)
//   - POST /payments/{dealId}/refund  (admin-only full refund)
//
// Amounts cross this boundary in rupees and are converted to paise before
// reaching the service layer; everything below the handlers works in minor
// units only.
//
// Idempotency:
// If the client supplies an Idempotency-Key header on order creation and a
// previous successful result exists for (user, deal, key), the handler replays
// the recorded order and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerfree/rental-backend/internal/gateway"
	"github.com/brokerfree/rental-backend/internal/repo"
	"github.com/brokerfree/rental-backend/internal/services"
)

//
// DTOs
//

// CreateOrderRequest is the JSON payload for creating a payment order.
type CreateOrderRequest struct {
	// DealID identifies the completed deal whose success fee is being paid.
	DealID string `json:"deal_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Amount is the fee in rupees; converted to paise internally.
	Amount int64 `json:"amount" binding:"required,gt=0" example:"499"`
	// Description is free text shown on the gateway checkout.
	Description string `json:"description" example:"Success fee"`
	// Email and Phone are forwarded to the gateway as order notes.
	Email string `json:"email" binding:"omitempty,email" example:"tenant@example.com"`
	Phone string `json:"phone" example:"+919800000000"`
	// Name is the payer's display name.
	Name string `json:"name" example:"Asha Rao"`
}

// VerifyPaymentRequest is the JSON payload for the client-side capture callback.
type VerifyPaymentRequest struct {
	OrderID    string `json:"order_id" binding:"required" example:"order_NXhT4c9zh1Xa2b"`
	PaymentRef string `json:"payment_ref" binding:"required" example:"pay_NXhU8d0aj2Yb3c"`
	Signature  string `json:"signature" binding:"required"`
	DealID     string `json:"deal_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// RefundRequest is the JSON payload for initiating a refund.
type RefundRequest struct {
	// Reason is recorded with the refund's audit event.
	Reason string `json:"reason" example:"deal reversed after move-in dispute"`
}

//
// Handlers
//

// CreateOrder godoc
// @ID          createPaymentOrder
// @Summary     Create a payment order
// @Description Registers a gateway order for the deal's success fee and returns the order
// @Description id the client needs to open checkout. Requires the deal to be COMPLETED.
// @Description Supports idempotency via the Idempotency-Key header (same key → same order).
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Payer user ID"  example(usr-tenant-1)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.CreateOrderRequest  true  "Order payload"
//
// @Success     201  {object}  services.OrderResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Deal not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Deal not completed / already paid"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway unavailable"
// @Router      /payments/order [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal_id and a positive amount are required")
		return
	}
	if _, err := uuid.Parse(req.DealID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal_id must be a UUID")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if svc, okSvc := h.paySvc.(*services.PaymentService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, uid, req.DealID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if p, err2 := repo.GetPaymentByDeal(ctx, svc.DB, req.DealID); err2 == nil && p.ID == rec.PaymentID {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, services.OrderResult{
						OrderID:  p.OrderID,
						Amount:   p.Amount,
						Currency: svc.Currency,
					})
					return
				}
			}
		}
	}

	// Rupees to paise at the boundary; the gateway and store see minor units.
	amount := req.Amount * 100

	res, err := h.paySvc.CreateOrder(ctx, req.DealID, amount, req.Description, uid, req.Email, req.Phone, req.Name)
	if err != nil {
		failPayment(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.paySvc.(*services.PaymentService); okSvc && svc.DB != nil {
			if p, perr := repo.GetPaymentByDeal(ctx, svc.DB, req.DealID); perr == nil {
				ttl := 24 * time.Hour
				_, _ = repo.CreateIdempotency(ctx, svc.DB, uid, req.DealID, idemKey, p.ID, http.StatusCreated, ttl)
			}
		}
	}

	ok(c, http.StatusCreated, res)
}

// VerifyPayment godoc
// @ID          verifyPayment
// @Summary     Verify a captured payment
// @Description Validates the checkout callback signature and marks the payment COMPLETED.
// @Description Safe to race the gateway webhook; the losing writer still gets a success.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Payer user ID"  example(usr-tenant-1)
// @Param       body       body    handlers.VerifyPaymentRequest  true  "Capture callback payload"
//
// @Success     200  {object}  domain.Payment
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid signature / bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Order id mismatch"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/verify [post]
func (h *Handlers) VerifyPayment(c *gin.Context) {
	if _, okUser := requireUser(c); !okUser {
		return
	}

	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order_id, payment_ref, signature and deal_id are required")
		return
	}

	p, err := h.paySvc.VerifyPayment(c.Request.Context(), req.OrderID, req.PaymentRef, req.Signature, req.DealID)
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetPayment godoc
// @ID          getPaymentDetails
// @Summary     Get payment details
// @Description Returns the deal's payment and its audit trail, newest event first.
// @Description Responds 200 with a null body when no payment exists yet.
// @Tags        Payments
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"         example(usr-tenant-1)
// @Param       dealId     path    string  true  "Deal ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.PaymentDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments/{dealId} [get]
func (h *Handlers) GetPayment(c *gin.Context) {
	dealID := c.Param("dealId")
	if _, err := uuid.Parse(dealID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal id must be a UUID")
		return
	}
	if _, okUser := requireUser(c); !okUser {
		return
	}

	detail, err := h.paySvc.Details(c.Request.Context(), dealID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	// Absence is not an error for this read; the body is literally null.
	ok(c, http.StatusOK, detail)
}

// RefundPayment godoc
// @ID          refundPayment
// @Summary     Refund a captured payment
// @Description Initiates a full refund with the gateway. The payment stays COMPLETED until
// @Description the refund.completed webhook arrives. Admin role required.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID    header  string  true  "Admin user ID"   example(usr-admin-1)
// @Param       X-User-Role  header  string  true  "Must be admin"   example(admin)
// @Param       dealId       path    string  true  "Deal ID (UUID)"  format(uuid)
// @Param       body         body    handlers.RefundRequest  false  "Optional reason"
//
// @Success     202  {string}  string  "Accepted"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Admin role required"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not completed / refund in flight"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway unavailable"
// @Router      /payments/{dealId}/refund [post]
func (h *Handlers) RefundPayment(c *gin.Context) {
	dealID := c.Param("dealId")
	if _, err := uuid.Parse(dealID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal id must be a UUID")
		return
	}
	if _, okUser := requireUser(c); !okUser {
		return
	}
	if userRole(c) != "admin" {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "admin role required")
		return
	}

	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	if err := h.paySvc.Refund(c.Request.Context(), dealID, req.Reason); err != nil {
		failPayment(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// failPayment maps payment sentinel errors onto HTTP responses.
func failPayment(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDealNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "deal not found")
	case errors.Is(err, services.ErrPaymentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
	case errors.Is(err, services.ErrDealNotCompleted):
		fail(c, http.StatusConflict, ErrCodeInvalidState, "deal is not completed")
	case errors.Is(err, services.ErrAlreadyPaid):
		fail(c, http.StatusConflict, ErrCodeConflict, "payment already completed")
	case errors.Is(err, services.ErrOrderMismatch):
		fail(c, http.StatusConflict, ErrCodeConflict, "order id mismatch")
	case errors.Is(err, services.ErrInvalidSignature):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "invalid signature")
	case errors.Is(err, services.ErrPaymentNotCompleted):
		fail(c, http.StatusConflict, ErrCodeInvalidState, "payment is not completed")
	case errors.Is(err, services.ErrRefundInFlight):
		fail(c, http.StatusConflict, ErrCodeConflict, "refund already initiated")
	case errors.Is(err, gateway.ErrUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeGatewayUnavailable, "payment gateway unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
