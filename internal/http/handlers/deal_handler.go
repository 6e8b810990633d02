// Deal HTTP handlers.
//
// This file exposes REST endpoints for the deal confirmation workflow:
//   - POST /conversations/{id}/deal/owner-confirm   (owner consent, may set rent)
//   - POST /conversations/{id}/deal/tenant-confirm  (tenant consent)
//   - POST /deals/{id}/cancel                       (cancel a non-completed deal)
//   - GET  /deals/{id}                              (deal detail for a participant)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate sentinel errors into HTTP responses. It also hosts the shared
// handler wiring (Handlers struct, service contracts, identity helpers) used
// by the payment, conversation, and bookmark handlers in this package.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/services"
	"github.com/brokerfree/rental-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DealService defines the deal confirmation operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DealService interface {
	// OwnerConfirm records the owner's consent, optionally adjusting the rent.
	OwnerConfirm(ctx context.Context, conversationID, ownerID string, agreedRent *int64) (*services.DealDetail, error)
	// TenantConfirm records the tenant's consent.
	TenantConfirm(ctx context.Context, conversationID, tenantID string) (*services.DealDetail, error)
	// Cancel cancels a deal that has not completed.
	Cancel(ctx context.Context, dealID, userID string) error
	// GetDetail returns a deal with participant and property summaries.
	GetDetail(ctx context.Context, dealID, userID string) (*services.DealDetail, error)
}

// PaymentService defines the payment lifecycle operations consumed by HTTP
// handlers.
type PaymentService interface {
	// CreateOrder registers a gateway order for the deal's success fee.
	CreateOrder(ctx context.Context, dealID string, amount int64, description, payerID, email, phone, userName string) (*services.OrderResult, error)
	// VerifyPayment applies the client-side capture callback.
	VerifyPayment(ctx context.Context, orderID, paymentRef, signature, dealID string) (*domain.Payment, error)
	// HandleWebhook verifies and applies one gateway webhook delivery.
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	// Refund initiates a full refund of a captured payment.
	Refund(ctx context.Context, dealID, reason string) error
	// Details returns the payment and its audit trail, or (nil, nil) if absent.
	Details(ctx context.Context, dealID string) (*services.PaymentDetail, error)
}

// ConversationService defines conversation and message operations consumed by
// HTTP handlers.
type ConversationService interface {
	// StartConversation opens (or returns) the conversation between the
	// caller and a property's owner.
	StartConversation(ctx context.Context, propertyID, tenantID string) (*domain.Conversation, error)
	// Post appends a message to a conversation the caller participates in.
	Post(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error)
	// ListPage returns a page of messages within a conversation and the total.
	ListPage(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error)
	// ListConversations returns a page of the user's conversations and the total.
	ListConversations(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
}

// BookmarkService defines property bookmark operations consumed by HTTP
// handlers.
type BookmarkService interface {
	// Save bookmarks a property for the user.
	Save(ctx context.Context, userID, propertyID string) error
	// Remove deletes the user's bookmark on a property.
	Remove(ctx context.Context, userID, propertyID string) error
	// List returns the user's bookmarks.
	List(ctx context.Context, userID string) ([]domain.Bookmark, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for deals, payments, conversations, and
// bookmarks. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	dealSvc DealService
	paySvc  PaymentService
	convSvc ConversationService
	bmSvc   BookmarkService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(dealSvc DealService, paySvc PaymentService, convSvc ConversationService, bmSvc BookmarkService) *Handlers {
	return &Handlers{dealSvc: dealSvc, paySvc: paySvc, convSvc: convSvc, bmSvc: bmSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header. It never
// touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// userRole returns the caller's role claim ("user" when unset). The gateway in
// front of this service is trusted to strip client-supplied identity headers.
func userRole(c *gin.Context) string {
	if v, ok := c.Get("userRole"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-Role")); h != "" {
			return h
		}
	}
	return "user"
}

// requireUser aborts with 401 when no identity header is present and reports
// whether the request may proceed.
func requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return "", false
	}
	return uid, true
}

//
// DTOs
//

// OwnerConfirmRequest is the JSON payload for the owner's confirmation.
type OwnerConfirmRequest struct {
	// AgreedRent optionally replaces the deal's monthly rent, in rupees.
	AgreedRent *int64 `json:"agreed_rent" binding:"omitempty,gt=0" example:"18500"`
}

// CancelDealRequest is the JSON payload for cancelling a deal.
type CancelDealRequest struct {
	// Reason is free text recorded in logs only.
	Reason string `json:"reason" example:"tenant backed out"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// OwnerConfirm godoc
// @ID          ownerConfirmDeal
// @Summary     Owner confirms the deal
// @Description Records the owner's consent on the conversation's deal, creating the deal
// @Description if necessary. When the tenant has already confirmed, the deal completes and
// @Description the success fee is computed atomically.
// @Tags        Deals
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Owner user ID"   example(usr-owner-1)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.OwnerConfirmRequest  false  "Optional rent override"
//
// @Success     200  {object}  services.DealDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Deal cancelled"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/deal/owner-confirm [post]
func (h *Handlers) OwnerConfirm(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req OwnerConfirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "agreed_rent must be a positive integer")
			return
		}
	}

	detail, err := h.dealSvc.OwnerConfirm(c.Request.Context(), conversationID, uid, req.AgreedRent)
	if err != nil {
		failDeal(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// TenantConfirm godoc
// @ID          tenantConfirmDeal
// @Summary     Tenant confirms the deal
// @Description Records the tenant's consent on the conversation's deal, creating the deal
// @Description if necessary. Tenants cannot change the agreed rent.
// @Tags        Deals
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Tenant user ID"  example(usr-tenant-1)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.DealDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Deal cancelled"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/deal/tenant-confirm [post]
func (h *Handlers) TenantConfirm(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	detail, err := h.dealSvc.TenantConfirm(c.Request.Context(), conversationID, uid)
	if err != nil {
		failDeal(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// CancelDeal godoc
// @ID          cancelDeal
// @Summary     Cancel a deal
// @Description Cancels a deal the caller participates in. Completed deals cannot be
// @Description cancelled; cancelling twice is a no-op.
// @Tags        Deals
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Participant user ID"  example(usr-tenant-1)
// @Param       id         path    string  true  "Deal ID (UUID)"       format(uuid)
// @Param       body       body    handlers.CancelDealRequest  false  "Optional reason"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Deal not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Deal already completed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deals/{id}/cancel [post]
func (h *Handlers) CancelDeal(c *gin.Context) {
	dealID := c.Param("id")
	if _, err := uuid.Parse(dealID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	if err := h.dealSvc.Cancel(c.Request.Context(), dealID, uid); err != nil {
		failDeal(c, err)
		return
	}
	noContent(c)
}

// GetDeal godoc
// @ID          getDeal
// @Summary     Get a deal
// @Description Returns the deal with participant and property summaries. Only
// @Description participants can see a deal; others get 404.
// @Tags        Deals
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Participant user ID"  example(usr-owner-1)
// @Param       id         path    string  true  "Deal ID (UUID)"       format(uuid)
//
// @Success     200  {object}  services.DealDetail
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Deal not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deals/{id} [get]
func (h *Handlers) GetDeal(c *gin.Context) {
	dealID := c.Param("id")
	if _, err := uuid.Parse(dealID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	detail, err := h.dealSvc.GetDetail(c.Request.Context(), dealID, uid)
	if err != nil {
		failDeal(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// failDeal maps deal-workflow sentinel errors onto HTTP responses.
func failDeal(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrDealNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "deal not found")
	case errors.Is(err, services.ErrDealCancelled):
		fail(c, http.StatusConflict, ErrCodeInvalidState, "deal is cancelled")
	case errors.Is(err, services.ErrDealCompleted):
		fail(c, http.StatusConflict, ErrCodeInvalidState, "deal already completed")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
