// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Property,
// User, and Bookmark models. Catalog CRUD and search live in a separate
// service; the core needs lookups, the RENTED flip, and bookmarks.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brokerfree/rental-backend/internal/domain"
)

// GetProperty fetches a property by id, or ErrNotFound.
func GetProperty(ctx context.Context, db *gorm.DB, id string) (*domain.Property, error) {
	var p domain.Property
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPropertyRented flips a property's listing status to RENTED. Called from
// inside the deal-completion transaction. Missing rows return ErrNotFound.
func MarkPropertyRented(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Property{}).
		Where("id = ?", id).
		Update("status", domain.PropertyRented)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser fetches a user by id, or ErrNotFound. Used for ownership checks and
// notification payloads.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateBookmark inserts a bookmark row for the given property and user.
//
// The combination (property_id, user_id) must be unique, enforced by the
// database schema. A duplicate insert surfaces as a unique-violation error
// which the service layer translates into a domain-level duplicate error.
func CreateBookmark(ctx context.Context, db *gorm.DB, propertyID, userID string) error {
	b := &domain.Bookmark{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(b).Error
}

// DeleteBookmark removes a user's bookmark on a property. Missing rows return
// ErrNotFound.
func DeleteBookmark(ctx context.Context, db *gorm.DB, propertyID, userID string) error {
	res := db.WithContext(ctx).
		Where("property_id = ? AND user_id = ?", propertyID, userID).
		Delete(&domain.Bookmark{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBookmarks returns all bookmarks of a user, most recent first.
func ListBookmarks(ctx context.Context, db *gorm.DB, userID string) ([]domain.Bookmark, error) {
	var out []domain.Bookmark
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
