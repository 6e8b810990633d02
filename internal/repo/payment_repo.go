// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Payment
// model and its append-only PaymentEvent audit trail.
//
// Status transitions use conditional updates keyed on the pre-transition
// status set, so a verification callback racing the gateway webhook yields
// exactly one winning write. The loser observes ErrStaleStatus, re-reads, and
// treats the already-applied terminal state as success.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brokerfree/rental-backend/internal/domain"
)

// CreatePayment inserts a new payment row in INITIATED state.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PaymentInitiated
	}
	p.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(p).Error
}

// GetPaymentByDeal fetches the payment for a deal, or ErrNotFound.
func GetPaymentByDeal(ctx context.Context, db *gorm.DB, dealID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).Where("deal_id = ?", dealID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByOrder fetches a payment by its gateway order id, or ErrNotFound.
func GetPaymentByOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByRef fetches a payment by its gateway payment id, or ErrNotFound.
func GetPaymentByRef(ctx context.Context, db *gorm.DB, paymentRef string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ResetPaymentOrder points an existing non-completed payment at a freshly
// created gateway order and moves it back to INITIATED. Guarded against
// COMPLETED so a re-order cannot clobber a captured payment.
func ResetPaymentOrder(ctx context.Context, db *gorm.DB, id, orderID string, amount int64, payerID, description string) error {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status <> ?", id, domain.PaymentCompleted).
		Updates(map[string]any{
			"order_id":    orderID,
			"amount":      amount,
			"payer_id":    payerID,
			"description": description,
			"status":      domain.PaymentInitiated,
			"failed_at":   nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkPaymentCompleted transitions a payment into COMPLETED with capture
// metadata. Conditioned on the legal pre-states only: of two racing writers
// (client verification vs. webhook) one wins; the loser gets ErrStaleStatus
// and must treat the existing COMPLETED row as success. A REFUNDED payment
// never matches, so a redelivered capture webhook cannot resurrect it.
func MarkPaymentCompleted(ctx context.Context, db *gorm.DB, id, paymentRef string, signature, method *string) error {
	fields := map[string]any{
		"payment_ref":  paymentRef,
		"status":       domain.PaymentCompleted,
		"completed_at": time.Now().UTC(),
	}
	if signature != nil {
		fields["signature"] = *signature
	}
	if method != nil {
		fields["method"] = *method
	}
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status IN ?", id, []domain.PaymentStatus{
			domain.PaymentPending, domain.PaymentInitiated, domain.PaymentFailed,
		}).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkPaymentFailed transitions an INITIATED payment into FAILED.
// A payment that already completed (or failed) is left untouched.
func MarkPaymentFailed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentInitiated).
		Updates(map[string]any{
			"status":    domain.PaymentFailed,
			"failed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkPaymentRefunded transitions a COMPLETED payment into REFUNDED. Only the
// gateway's refund.completed webhook drives this transition.
func MarkPaymentRefunded(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentCompleted).
		Updates(map[string]any{
			"status":      domain.PaymentRefunded,
			"refunded_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// AppendPaymentEvent writes one append-only audit row. Events are never
// updated or deleted.
func AppendPaymentEvent(ctx context.Context, db *gorm.DB, paymentID, eventName, outcome, rawPayload string, errMsg *string) error {
	ev := &domain.PaymentEvent{
		ID:           uuid.NewString(),
		PaymentID:    paymentID,
		EventName:    eventName,
		Outcome:      outcome,
		RawPayload:   rawPayload,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListPaymentEvents returns the audit trail for a payment, newest first.
func ListPaymentEvents(ctx context.Context, db *gorm.DB, paymentID string) ([]domain.PaymentEvent, error) {
	var out []domain.PaymentEvent
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// HasPaymentEvent reports whether an event with the given name was already
// recorded for the payment. Used to reject a second concurrent refund request
// before the refund.completed webhook lands.
func HasPaymentEvent(ctx context.Context, db *gorm.DB, paymentID, eventName string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PaymentEvent{}).
		Where("payment_id = ? AND event_name = ?", paymentID, eventName).
		Count(&n).Error
	return n > 0, err
}
