// Gateway webhook handler.
//
// This file exposes the single inbound endpoint the payment gateway calls:
//   - POST /webhooks/payment-gateway
//
// The endpoint always acknowledges with 200. A delivery that fails signature
// verification can never pass it on retry, so rejecting it with an error
// status would only make the gateway hammer the endpoint; the rejection is
// logged and the transition is simply not applied. Genuine processing
// failures (store errors) also acknowledge, relying on the gateway's
// eventual redelivery and the idempotent transition logic to converge.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// webhookSignatureHeader carries the gateway's HMAC over the raw body.
const webhookSignatureHeader = "X-Gateway-Signature"

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20 // 1 MiB

// PaymentWebhook godoc
// @ID          paymentGatewayWebhook
// @Summary     Payment gateway webhook
// @Description Receives asynchronous payment and refund events from the gateway.
// @Description Always responds 200; invalid signatures and unknown payments are
// @Description logged and skipped rather than bounced.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-Gateway-Signature  header  string  true  "HMAC-SHA256 hex over the raw body"
//
// @Success     200  {object}  map[string]string
// @Router      /webhooks/payment-gateway [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("webhook body read failed")
		ok(c, http.StatusOK, gin.H{"status": "ok"})
		return
	}

	sig := c.GetHeader(webhookSignatureHeader)
	if err := h.paySvc.HandleWebhook(c.Request.Context(), body, sig); err != nil {
		// Ack regardless; the gateway redelivers and transitions are idempotent.
		log.Warn().Err(err).Msg("webhook not applied")
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
