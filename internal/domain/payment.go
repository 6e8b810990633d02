// Package domain defines the core persistence models for the application.
// This file holds the payment ledger: one Payment lifecycle per deal plus an
// append-only PaymentEvent audit trail of every transition attempt.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// PaymentStatus is the lifecycle state of a payment attempt.
//
// Transitions are monotonic: PENDING → INITIATED → COMPLETED, FAILED is
// reachable from INITIATED, REFUNDED only from COMPLETED. COMPLETED is
// reached at most once; a second verification or webhook for an already
// completed payment is a no-op.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Payment is one success-fee payment lifecycle tied 1:1 to a deal (enforced
// by the unique deal_id index). Amount is stored in paise (smallest currency
// unit); externally quoted rupee amounts convert via x100 at the boundary.
type Payment struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	DealID      string         `json:"deal_id"      gorm:"type:char(36);not null;uniqueIndex:ux_payment_deal"`
	PayerID     string         `json:"payer_id"     gorm:"type:char(36);not null;index"`
	Amount      int64          `json:"amount"       gorm:"not null;check:amount > 0"` // paise
	Description string         `json:"description"  gorm:"type:varchar(255);not null"`
	OrderID     string         `json:"order_id"     gorm:"type:varchar(64);not null;index:idx_payment_order"` // gateway order id
	PaymentRef  *string        `json:"payment_ref,omitempty" gorm:"type:varchar(64);index:idx_payment_ref"`   // gateway payment id, set at capture
	Signature   *string        `json:"signature,omitempty"   gorm:"type:varchar(128)"`
	Status      PaymentStatus  `json:"status"       gorm:"type:varchar(16);not null;default:'PENDING';index"`
	Method      *string        `json:"method,omitempty" gorm:"type:varchar(32)"`
	Notes       string         `json:"notes"        gorm:"type:text"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	RefundedAt  *time.Time     `json:"refunded_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`

	Deal Deal `json:"-" gorm:"foreignKey:DealID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Audit event names recorded in the payment_events table.
const (
	EventPaymentInitiated     = "PAYMENT_INITIATED"
	EventPaymentAuthorized    = "PAYMENT_AUTHORIZED"
	EventPaymentCompleted     = "PAYMENT_COMPLETED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventRefundInitiated      = "REFUND_INITIATED"
	EventRefundCompleted      = "REFUND_COMPLETED"
	EventSignatureVerifyFail  = "SIGNATURE_VERIFICATION_FAILED"
)

// PaymentEvent outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
)

// PaymentEvent is one append-only audit row per transition attempt against a
// payment, successful or not, with a copy of the raw gateway payload. Rows
// are never mutated or deleted; they back dispute resolution and replay
// auditing.
type PaymentEvent struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	PaymentID    string    `json:"payment_id"    gorm:"type:char(36);not null;index:idx_payment_events"`
	EventName    string    `json:"event_name"    gorm:"type:varchar(64);not null"`
	Outcome      string    `json:"outcome"       gorm:"type:varchar(8);not null;check:outcome IN ('SUCCESS','FAILED')"`
	RawPayload   string    `json:"raw_payload"   gorm:"type:text"`
	ErrorMessage *string   `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index:idx_payment_events,priority:2"`

	Payment Payment `json:"-" gorm:"foreignKey:PaymentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PaymentEvent.
func (PaymentEvent) TableName() string { return "payment_events" }
