// Package domain defines the core persistence models for the application.
// This file holds the Deal aggregate: a bilateral rental agreement that
// requires mutual owner/tenant confirmation before it completes.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// DealStatus is the confirmation state of a deal.
//
// Status is a derived cache of (OwnerConfirmed, TenantConfirmed, cancelled):
// COMPLETED holds exactly when both flags are set and the deal was never
// cancelled. Writers recompute it inside the same transaction as the flag
// write; readers must never branch on a separately-read stale status.
type DealStatus string

const (
	DealPendingBoth   DealStatus = "PENDING_BOTH"
	DealPendingOwner  DealStatus = "PENDING_OWNER"
	DealPendingTenant DealStatus = "PENDING_TENANT"
	DealCompleted     DealStatus = "COMPLETED"
	DealCancelled     DealStatus = "CANCELLED"
)

// Terminal reports whether no further confirmation transitions are allowed.
func (s DealStatus) Terminal() bool {
	return s == DealCompleted || s == DealCancelled
}

// DealPaymentStatus tracks whether the platform success fee was captured.
type DealPaymentStatus string

const (
	DealUnpaid DealPaymentStatus = "UNPAID"
	DealPaid   DealPaymentStatus = "PAID"
)

// Deal represents a rental agreement under negotiation between the owner and
// the tenant of one conversation. At most one deal exists per conversation.
//
// Invariants:
//   - Status == COMPLETED iff OwnerConfirmed && TenantConfirmed.
//   - SuccessFeeAmount is set exactly once, at the transition into COMPLETED,
//     and never changes afterwards.
//   - CANCELLED is terminal and unreachable from COMPLETED.
//   - AgreedRent is mutable only while the deal is non-terminal.
type Deal struct {
	ID                string            `json:"id"                  gorm:"type:char(36);primaryKey"`
	ConversationID    string            `json:"conversation_id"     gorm:"type:char(36);not null;uniqueIndex:ux_deal_conversation"`
	PropertyID        string            `json:"property_id"         gorm:"type:char(36);not null;index"`
	OwnerID           string            `json:"owner_id"            gorm:"type:char(36);not null;index"`
	TenantID          string            `json:"tenant_id"           gorm:"type:char(36);not null;index"`
	AgreedRent        int64             `json:"agreed_rent"         gorm:"not null;check:agreed_rent > 0"` // rupees
	OwnerConfirmed    bool              `json:"owner_confirmed"     gorm:"not null;default:false"`
	TenantConfirmed   bool              `json:"tenant_confirmed"    gorm:"not null;default:false"`
	OwnerConfirmedAt  *time.Time        `json:"owner_confirmed_at,omitempty"`
	TenantConfirmedAt *time.Time        `json:"tenant_confirmed_at,omitempty"`
	Status            DealStatus        `json:"status"              gorm:"type:varchar(16);not null;default:'PENDING_BOTH';index"`
	SuccessFeeAmount  *int64            `json:"success_fee_amount,omitempty"` // rupees, set at completion
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	PaymentStatus     DealPaymentStatus `json:"payment_status"      gorm:"type:varchar(8);not null;default:'UNPAID'"`
	PaymentID         *string           `json:"payment_id,omitempty" gorm:"type:varchar(64)"` // external gateway payment id
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         gorm.DeletedAt    `json:"-"                   gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Deal.
func (Deal) TableName() string { return "deals" }

// DeriveStatus computes the confirmation status from the two consent flags.
// Cancelled deals keep DealCancelled regardless of the flags.
func DeriveStatus(ownerConfirmed, tenantConfirmed, cancelled bool) DealStatus {
	switch {
	case cancelled:
		return DealCancelled
	case ownerConfirmed && tenantConfirmed:
		return DealCompleted
	case ownerConfirmed:
		return DealPendingTenant
	case tenantConfirmed:
		return DealPendingOwner
	default:
		return DealPendingBoth
	}
}

// SuccessFee returns the platform fee in rupees for a completed deal with the
// given monthly rent. Flat slabs with strict less-than boundaries.
func SuccessFee(agreedRent int64) int64 {
	switch {
	case agreedRent < 10_000:
		return 299
	case agreedRent < 25_000:
		return 499
	default:
		return 999
	}
}
