// Package domain defines the persistence models for the rental marketplace:
// users, properties, conversations, messages, bookmarks, and the deal/payment
// ledger. These types are mapped with GORM and form the core data layer of
// the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// PropertyStatus describes the listing state of a property.
type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "AVAILABLE"
	PropertyRented    PropertyStatus = "RENTED"
)

// User is a minimal account record. Registration, authentication, and password
// reset live in an external identity service; this table only backs lookups
// for ownership checks and notification payloads.
type User struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	FirstName string         `json:"first_name" gorm:"type:varchar(64);not null"`
	LastName  string         `json:"last_name"  gorm:"type:varchar(64);not null"`
	Email     string         `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;default:'user'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Property represents a rental listing owned by a user. Catalog CRUD and
// search are served elsewhere; the core needs the owner, the asking rent,
// and the listing status (a completed deal marks the property RENTED).
type Property struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	OwnerID     string         `json:"owner_id"     gorm:"type:char(36);not null;index:idx_owner_properties"`
	Title       string         `json:"title"        gorm:"type:varchar(255);not null"`
	City        string         `json:"city"         gorm:"type:varchar(64);not null;index"`
	MonthlyRent int64          `json:"monthly_rent" gorm:"not null;check:monthly_rent > 0"` // rupees
	Status      PropertyStatus `json:"status"       gorm:"type:varchar(16);not null;default:'AVAILABLE'"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Property.
func (Property) TableName() string { return "properties" }

// Conversation links one tenant with one property owner about one property.
// A tenant holds at most one conversation per property (unique index); the
// deal workflow hangs off the conversation once both parties agree.
type Conversation struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	PropertyID string         `json:"property_id" gorm:"type:char(36);not null;uniqueIndex:ux_conv_property_tenant,priority:1"`
	OwnerID    string         `json:"owner_id"    gorm:"type:char(36);not null;index:idx_conv_owner"`
	TenantID   string         `json:"tenant_id"   gorm:"type:char(36);not null;index:idx_conv_tenant;uniqueIndex:ux_conv_property_tenant,priority:2"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`

	Property Property `json:"-" gorm:"foreignKey:PropertyID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is one chat line inside a conversation. Plain insert-and-read
// persistence; delivery state and real-time transport are out of scope.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string         `json:"sender_id"       gorm:"type:char(36);not null"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Bookmark saves a property to a user's shortlist. A user can bookmark a
// property at most once (enforced by unique index).
type Bookmark struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	PropertyID string         `json:"property_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_bookmark_property_user"`
	UserID     string         `json:"user_id"     gorm:"type:char(36);not null;index;uniqueIndex:ux_bookmark_property_user"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`

	Property Property `json:"-" gorm:"foreignKey:PropertyID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Bookmark.
func (Bookmark) TableName() string { return "bookmarks" }
