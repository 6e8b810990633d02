// Package services – DealService
//
// This file implements the bilateral deal-confirmation workflow. A deal is
// created lazily on the first confirmation by either party and completes when
// both the owner and the tenant have confirmed. Completion computes the
// platform success fee from the agreed rent, marks the property RENTED, and
// stamps the deal — all inside the transaction that carried the triggering
// confirmation, so a reader can never observe "both flags set" without the
// derived status and fee.
//
// Status is strictly a function of (ownerConfirmed, tenantConfirmed,
// cancelled) recomputed at write time; all status-changing writes are
// conditioned on the previously read status so concurrent confirmations
// converge on exactly one completion.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// conversation/deal/user identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/notify"
	"github.com/brokerfree/rental-backend/internal/repo"
)

// confirmRetries bounds how often a confirmation is replayed after losing a
// conditional-update race before giving up.
const confirmRetries = 3

// UserSummary is the participant projection embedded in deal responses.
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// PropertySummary is the listing projection embedded in deal responses.
type PropertySummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	City        string `json:"city"`
	MonthlyRent int64  `json:"monthly_rent"`
}

// DealDetail is a deal together with its participant and property summaries.
type DealDetail struct {
	domain.Deal
	Property PropertySummary `json:"property"`
	Owner    UserSummary     `json:"owner"`
	Tenant   UserSummary     `json:"tenant"`
}

// DealService owns the deal confirmation state machine.
type DealService struct {
	DB       *gorm.DB
	Notifier notify.Notifier
}

// NewDealService constructs a DealService.
func NewDealService(db *gorm.DB, n notify.Notifier) *DealService {
	return &DealService{DB: db, Notifier: n}
}

// OwnerConfirm records the owner's consent on the conversation's deal,
// creating the deal if it does not exist yet. agreedRent, when supplied,
// replaces the deal's rent (only while the deal is non-terminal). If the
// tenant already confirmed, the deal completes atomically.
func (s *DealService) OwnerConfirm(ctx context.Context, conversationID, ownerID string, agreedRent *int64) (*DealDetail, error) {
	tr := otel.Tracer("services/DealService")
	ctx, span := tr.Start(ctx, "OwnerConfirm",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", ownerID),
		),
	)
	defer span.End()

	return s.confirm(ctx, conversationID, ownerID, repo.RoleOwner, agreedRent)
}

// TenantConfirm records the tenant's consent, symmetric to OwnerConfirm.
// Tenants cannot change the agreed rent.
func (s *DealService) TenantConfirm(ctx context.Context, conversationID, tenantID string) (*DealDetail, error) {
	tr := otel.Tracer("services/DealService")
	ctx, span := tr.Start(ctx, "TenantConfirm",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", tenantID),
		),
	)
	defer span.End()

	return s.confirm(ctx, conversationID, tenantID, repo.RoleTenant, nil)
}

// confirmOutcome carries what happened inside the transaction so that
// notifications can be submitted after commit.
type confirmOutcome struct {
	deal      *domain.Deal
	created   bool
	completed bool
}

func (s *DealService) confirm(ctx context.Context, conversationID, userID, role string, agreedRent *int64) (*DealDetail, error) {
	conv, err := repo.GetConversationForParty(ctx, s.DB, conversationID, userID, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var out confirmOutcome
	for attempt := 0; attempt < confirmRetries; attempt++ {
		out = confirmOutcome{}
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.applyConfirmation(ctx, tx, conv, role, agreedRent, &out)
		})
		if errors.Is(err, repo.ErrStaleStatus) {
			// Lost a conditional-update race; replay against fresh state.
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil, fmt.Errorf("confirmation contention on conversation %s: %w", conversationID, err)
		}
		return nil, err
	}

	s.notifyConfirmation(ctx, conv, out)

	return s.detail(ctx, out.deal)
}

// applyConfirmation performs one get-or-create + conditional update attempt
// inside tx. It sets out.deal to the post-write row on success.
func (s *DealService) applyConfirmation(ctx context.Context, tx *gorm.DB, conv *domain.Conversation, role string, agreedRent *int64, out *confirmOutcome) error {
	now := time.Now().UTC()

	deal, err := repo.GetDealByConversation(ctx, tx, conv.ID)
	if errors.Is(err, repo.ErrNotFound) {
		created, cerr := s.createDeal(ctx, tx, conv, role, agreedRent, now)
		if cerr == nil {
			out.deal = created
			out.created = true
			return nil
		}
		if !repo.IsUniqueViolation(cerr) {
			return cerr
		}
		// Lost the creation race; fall through to the update path.
		deal, err = repo.GetDealByConversation(ctx, tx, conv.ID)
	}
	if err != nil {
		return err
	}

	switch deal.Status {
	case domain.DealCancelled:
		return ErrDealCancelled
	case domain.DealCompleted:
		// Re-confirming a completed deal is idempotent; fee and status are
		// immutable once set.
		out.deal = deal
		return nil
	}

	ownerConfirmed := deal.OwnerConfirmed
	tenantConfirmed := deal.TenantConfirmed
	rent := deal.AgreedRent
	fields := map[string]any{}

	if role == repo.RoleOwner {
		if !ownerConfirmed {
			ownerConfirmed = true
			fields["owner_confirmed"] = true
			fields["owner_confirmed_at"] = now
		}
		if agreedRent != nil && *agreedRent != rent {
			rent = *agreedRent
			fields["agreed_rent"] = rent
		}
	} else {
		if !tenantConfirmed {
			tenantConfirmed = true
			fields["tenant_confirmed"] = true
			fields["tenant_confirmed_at"] = now
		}
	}

	if len(fields) == 0 {
		// Same party confirming twice with no rent change: nothing to write.
		out.deal = deal
		return nil
	}

	newStatus := domain.DeriveStatus(ownerConfirmed, tenantConfirmed, false)
	fields["status"] = newStatus
	if newStatus == domain.DealCompleted {
		fields["completed_at"] = now
		if deal.SuccessFeeAmount == nil {
			fields["success_fee_amount"] = domain.SuccessFee(rent)
		}
	}

	// Conditioned on the status we read; a concurrent completion or cancel
	// surfaces as ErrStaleStatus and the caller replays.
	if err := repo.UpdateDealFields(ctx, tx, deal.ID, deal.Status, fields); err != nil {
		return err
	}

	if newStatus == domain.DealCompleted {
		if err := repo.MarkPropertyRented(ctx, tx, deal.PropertyID); err != nil {
			return err
		}
		out.completed = true
	}

	fresh, err := repo.GetDeal(ctx, tx, deal.ID)
	if err != nil {
		return err
	}
	out.deal = fresh
	return nil
}

// createDeal inserts the lazily created deal carrying the confirming party's
// flag. Rent defaults to the property's asking rent when not supplied.
func (s *DealService) createDeal(ctx context.Context, tx *gorm.DB, conv *domain.Conversation, role string, agreedRent *int64, now time.Time) (*domain.Deal, error) {
	rent := int64(0)
	if agreedRent != nil {
		rent = *agreedRent
	} else {
		prop, err := repo.GetProperty(ctx, tx, conv.PropertyID)
		if err != nil {
			return nil, err
		}
		rent = prop.MonthlyRent
	}

	d := &domain.Deal{
		ConversationID: conv.ID,
		PropertyID:     conv.PropertyID,
		OwnerID:        conv.OwnerID,
		TenantID:       conv.TenantID,
		AgreedRent:     rent,
		PaymentStatus:  domain.DealUnpaid,
	}
	if role == repo.RoleOwner {
		d.OwnerConfirmed = true
		d.OwnerConfirmedAt = &now
	} else {
		d.TenantConfirmed = true
		d.TenantConfirmedAt = &now
	}
	d.Status = domain.DeriveStatus(d.OwnerConfirmed, d.TenantConfirmed, false)

	if err := repo.CreateDeal(ctx, tx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Cancel marks a deal CANCELLED. Only a participant may cancel, and only
// while the deal has not completed. Cancelling an already cancelled deal is
// a no-op.
func (s *DealService) Cancel(ctx context.Context, dealID, userID string) error {
	tr := otel.Tracer("services/DealService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(
			attribute.String("deal.id", dealID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	deal, err := repo.GetDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDealNotFound
		}
		return err
	}
	// Non-participants get the same answer as a missing deal.
	if deal.OwnerID != userID && deal.TenantID != userID {
		return ErrDealNotFound
	}
	if deal.Status == domain.DealCompleted {
		return ErrDealCompleted
	}
	if deal.Status == domain.DealCancelled {
		return nil
	}

	err = repo.CancelDeal(ctx, s.DB, dealID)
	if errors.Is(err, repo.ErrStaleStatus) {
		// A concurrent writer got there first; re-read to report truthfully.
		fresh, rerr := repo.GetDeal(ctx, s.DB, dealID)
		if rerr != nil {
			return rerr
		}
		if fresh.Status == domain.DealCompleted {
			return ErrDealCompleted
		}
		return nil
	}
	return err
}

// GetDetail returns a deal with participant and property summaries for a
// caller who is one of the parties.
func (s *DealService) GetDetail(ctx context.Context, dealID, userID string) (*DealDetail, error) {
	deal, err := repo.GetDeal(ctx, s.DB, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	if deal.OwnerID != userID && deal.TenantID != userID {
		return nil, ErrDealNotFound
	}
	return s.detail(ctx, deal)
}

// detail assembles the embedded summaries. Lookup failures degrade to empty
// summaries rather than failing the operation.
func (s *DealService) detail(ctx context.Context, deal *domain.Deal) (*DealDetail, error) {
	out := &DealDetail{Deal: *deal}
	if prop, err := repo.GetProperty(ctx, s.DB, deal.PropertyID); err == nil {
		out.Property = PropertySummary{ID: prop.ID, Title: prop.Title, City: prop.City, MonthlyRent: prop.MonthlyRent}
	}
	if u, err := repo.GetUser(ctx, s.DB, deal.OwnerID); err == nil {
		out.Owner = UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
	}
	if u, err := repo.GetUser(ctx, s.DB, deal.TenantID); err == nil {
		out.Tenant = UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
	}
	return out, nil
}

// notifyConfirmation submits the post-commit notifications: "deal created" to
// the other party on first creation, "deal completed" to both parties on
// completion. Submission is fire-and-forget; lookup failures are swallowed
// because notifications must never fail the confirmation.
func (s *DealService) notifyConfirmation(ctx context.Context, conv *domain.Conversation, out confirmOutcome) {
	if s.Notifier == nil || out.deal == nil {
		return
	}

	if out.created {
		otherID := conv.TenantID
		if !out.deal.OwnerConfirmed {
			otherID = conv.OwnerID
		}
		if u, err := repo.GetUser(ctx, s.DB, otherID); err == nil {
			s.Notifier.Submit(notify.Notification{
				Kind:           notify.KindDealCreated,
				RecipientEmail: u.Email,
				RecipientName:  u.FirstName + " " + u.LastName,
				UserID:         u.ID,
				Data: map[string]any{
					"deal_id":     out.deal.ID,
					"agreed_rent": out.deal.AgreedRent,
				},
			})
		}
	}

	if out.completed {
		for _, id := range []string{conv.OwnerID, conv.TenantID} {
			u, err := repo.GetUser(ctx, s.DB, id)
			if err != nil {
				continue
			}
			data := map[string]any{
				"deal_id":     out.deal.ID,
				"agreed_rent": out.deal.AgreedRent,
			}
			if out.deal.SuccessFeeAmount != nil {
				data["success_fee"] = *out.deal.SuccessFeeAmount
			}
			s.Notifier.Submit(notify.Notification{
				Kind:           notify.KindDealCompleted,
				RecipientEmail: u.Email,
				RecipientName:  u.FirstName + " " + u.LastName,
				UserID:         u.ID,
				Data:           data,
			})
		}
	}
}
