// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Deal model.
//
// All status-changing writes are conditional updates ("WHERE id = ? AND
// status = <expected>") so that two concurrent writers produce exactly one
// winning write; the loser re-reads and observes the already-applied state.
//
// Error semantics:
//   - When a deal is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - A conditional update that matched no rows returns ErrStaleStatus so the
//     service layer can re-read and converge instead of failing.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brokerfree/rental-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// gorm.ErrRecordNotFound for consistency across services and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleStatus is returned when a conditional status update matched no rows
// because another writer transitioned the record first. Callers should
// re-read and treat the already-applied state as the outcome.
var ErrStaleStatus = errors.New("stale status")

// IsUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateDeal inserts a new deal row. The caller supplies the initial consent
// flags; Status must already be derived from them. Returns IsUniqueViolation-
// matching errors when a deal already exists for the conversation.
func CreateDeal(ctx context.Context, db *gorm.DB, d *domain.Deal) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(d).Error
}

// GetDeal fetches a deal by primary key, or ErrNotFound.
func GetDeal(ctx context.Context, db *gorm.DB, id string) (*domain.Deal, error) {
	var d domain.Deal
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDealByConversation fetches the deal linked to a conversation, or
// ErrNotFound when the conversation has no deal yet.
func GetDealByConversation(ctx context.Context, db *gorm.DB, conversationID string) (*domain.Deal, error) {
	var d domain.Deal
	err := db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDealFields applies the given column updates to a non-terminal deal.
// The update is conditioned on the current status so a concurrent cancel or
// completion wins; ErrStaleStatus signals the condition no longer held.
func UpdateDealFields(ctx context.Context, db *gorm.DB, id string, expected domain.DealStatus, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Deal{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CancelDeal marks a deal CANCELLED. The write is conditioned on the deal
// being non-terminal; cancelling a COMPLETED (or already cancelled) deal
// matches no rows and returns ErrStaleStatus.
func CancelDeal(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Deal{}).
		Where("id = ? AND status NOT IN ?", id, []domain.DealStatus{domain.DealCompleted, domain.DealCancelled}).
		Update("status", domain.DealCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkDealPaid records the captured gateway payment on a completed deal.
// Conditioned on payment_status so the verify path and the webhook path can
// race; only the first writer flips UNPAID to PAID, the second is a no-op.
func MarkDealPaid(ctx context.Context, db *gorm.DB, id, externalPaymentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Deal{}).
		Where("id = ? AND payment_status = ?", id, domain.DealUnpaid).
		Updates(map[string]any{
			"payment_status": domain.DealPaid,
			"payment_id":     externalPaymentID,
		})
	return res.Error
}
