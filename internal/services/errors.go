// Package services defines the business logic for deals, payments,
// conversations, and bookmarks. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer. Absence and lack of visibility share one error on purpose: existence
// must not leak to callers who cannot see the record.
package services

import "errors"

// Conversation and messaging errors.
var (
	// ErrConversationNotFound indicates that the conversation does not exist
	// or does not involve the caller in the required role.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrPropertyNotFound indicates that the referenced property does not exist.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrOwnProperty is returned when an owner tries to open a conversation
	// about their own listing.
	ErrOwnProperty = errors.New("cannot start a conversation about your own property")

	// ErrEmptyMessage is returned when a posted message has no content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a posted message exceeds the
	// configured length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrDuplicateBookmark is returned when the user already bookmarked the
	// property.
	ErrDuplicateBookmark = errors.New("bookmark already exists")

	// ErrBookmarkNotFound indicates that the bookmark to remove does not exist.
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

// Deal workflow errors.
var (
	// ErrDealNotFound indicates that the deal does not exist or does not
	// involve the caller.
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealCompleted is returned when an operation (cancel, rent change) is
	// not legal on a completed deal.
	ErrDealCompleted = errors.New("deal already completed")

	// ErrDealCancelled is returned when a confirmation arrives for a
	// cancelled deal.
	ErrDealCancelled = errors.New("deal is cancelled")

	// ErrDealNotCompleted is returned when payment is requested before both
	// parties confirmed.
	ErrDealNotCompleted = errors.New("deal is not completed")
)

// Payment reconciliation errors.
var (
	// ErrPaymentNotFound indicates that no payment exists for the deal, or
	// that the payment has no captured gateway payment id yet.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrAlreadyPaid is returned when an order is requested for a deal whose
	// payment already completed.
	ErrAlreadyPaid = errors.New("payment already completed")

	// ErrOrderMismatch is returned when the supplied order id does not match
	// the one stored for the deal's payment.
	ErrOrderMismatch = errors.New("order id mismatch")

	// ErrInvalidSignature is returned when the client-side payment signature
	// fails HMAC verification. The attempt is recorded in the audit log
	// before this error is raised.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidWebhookSignature is returned when a webhook body fails HMAC
	// verification against the webhook secret. The HTTP boundary still
	// acknowledges the delivery with a 200.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrPaymentNotCompleted is returned when a refund is requested for a
	// payment that is not in COMPLETED state.
	ErrPaymentNotCompleted = errors.New("payment is not completed")

	// ErrRefundInFlight is returned when a refund was already initiated and
	// the refund.completed webhook has not arrived yet.
	ErrRefundInFlight = errors.New("refund already initiated")
)
