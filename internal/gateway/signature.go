// Package gateway – signature schemes.
//
// The processor signs two different things with two different shared secrets:
//
//   - Client-side payment verification: HMAC-SHA256 over "orderID|paymentID"
//     keyed with the API key secret, hex encoded. The client forwards this
//     signature after checkout and the backend recomputes it.
//   - Webhooks: HMAC-SHA256 over the exact raw request body keyed with a
//     dedicated webhook secret, hex encoded, carried in a header.
//
// Comparisons use hmac.Equal to stay constant-time.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PaymentSignature computes the expected client-verification signature for an
// order/payment pair.
func PaymentSignature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature reports whether the supplied signature matches the
// expected HMAC for the order/payment pair.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	expected := PaymentSignature(orderID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature reports whether the supplied signature matches the
// HMAC of the raw webhook body under the webhook secret.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
