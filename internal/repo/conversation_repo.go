// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation and Message models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brokerfree/rental-backend/internal/domain"
)

// Conversation party roles used by GetConversationForParty.
const (
	RoleOwner  = "owner"
	RoleTenant = "tenant"
)

// CreateConversation inserts a new conversation between a tenant and the
// owner of a property. The (property_id, tenant_id) pair is unique; a second
// insert for the same pair fails with a unique violation.
func CreateConversation(ctx context.Context, db *gorm.DB, propertyID, ownerID, tenantID string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		OwnerID:    ownerID,
		TenantID:   tenantID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversationForParty fetches a conversation by id, requiring userID to
// hold the given role (owner or tenant) in it. A conversation that exists but
// does not involve userID in that role yields ErrNotFound, deliberately not
// distinguishing absence from lack of visibility.
func GetConversationForParty(ctx context.Context, db *gorm.DB, id, userID, role string) (*domain.Conversation, error) {
	q := db.WithContext(ctx).Where("id = ?", id)
	switch role {
	case RoleOwner:
		q = q.Where("owner_id = ?", userID)
	case RoleTenant:
		q = q.Where("tenant_id = ?", userID)
	default:
		q = q.Where("owner_id = ? OR tenant_id = ?", userID, userID)
	}
	var c domain.Conversation
	if err := q.First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of conversations userID participates in.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("owner_id = ? OR tenant_id = ?", userID, userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of the user's conversations, most
// recent first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("owner_id = ? OR tenant_id = ?", userID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateMessage inserts a new message row.
func CreateMessage(db *gorm.DB, conversationID, senderID, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
