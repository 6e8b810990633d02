// Package services – MessageService
//
// Conversations and messages are deliberately plain persisted chat: start a
// conversation about a property, append messages, read them back paginated.
// No delivery state, ordering protocol, or real-time transport lives here;
// the deal workflow consumes conversations through the repo's party-scoped
// lookup.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/repo"
)

// MessageService coordinates conversation and message persistence.
type MessageService struct {
	DB *gorm.DB

	// MaxMessageRunes caps message content length; 0 disables the check.
	MaxMessageRunes int
}

// StartConversation opens (or returns) the conversation between tenantID and
// the owner of propertyID. Starting a conversation about one's own listing is
// rejected. The operation is idempotent: a second start returns the existing
// conversation.
func (s *MessageService) StartConversation(ctx context.Context, propertyID, tenantID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "StartConversation",
		trace.WithAttributes(
			attribute.String("property.id", propertyID),
			attribute.String("user.id", tenantID),
		),
	)
	defer span.End()

	prop, err := repo.GetProperty(ctx, s.DB, propertyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, err
	}
	if prop.OwnerID == tenantID {
		return nil, ErrOwnProperty
	}

	conv, err := repo.CreateConversation(ctx, s.DB, propertyID, prop.OwnerID, tenantID)
	if err == nil {
		return conv, nil
	}
	if !repo.IsUniqueViolation(err) {
		return nil, err
	}

	var existing domain.Conversation
	ferr := s.DB.WithContext(ctx).
		Where("property_id = ? AND tenant_id = ?", propertyID, tenantID).
		First(&existing).Error
	if ferr != nil {
		return nil, ferr
	}
	return &existing, nil
}

// Post appends a message from senderID to a conversation the sender
// participates in.
func (s *MessageService) Post(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(content) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	if _, err := repo.GetConversationForParty(ctx, s.DB, conversationID, senderID, ""); err != nil {
		return nil, ErrConversationNotFound
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, conversationID, senderID, content)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListPage returns paginated messages for a conversation the caller
// participates in, oldest first.
func (s *MessageService) ListPage(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversationForParty(ctx, s.DB, conversationID, userID, ""); err != nil {
		return nil, 0, ErrConversationNotFound
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// ListConversations returns a page of the user's conversations and the total
// count.
func (s *MessageService) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := repo.ListConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}
