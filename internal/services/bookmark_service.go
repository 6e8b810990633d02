// Package services – BookmarkService
//
// This file implements property bookmarks. It enforces the business rules
// (property existence, one bookmark per user and property) and persists
// bookmarks atomically. Service-level errors (ErrPropertyNotFound,
// ErrDuplicateBookmark, ErrBookmarkNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/repo"
)

// BookmarkService implements the use-cases around property bookmarks.
type BookmarkService struct {
	// DB is the database handle used for all bookmark operations.
	DB *gorm.DB
}

// Save bookmarks propertyID for userID.
//
//   - propertyID must exist; otherwise ErrPropertyNotFound.
//   - A user may bookmark a property at most once; a second attempt yields
//     ErrDuplicateBookmark (enforced by the unique index).
func (s *BookmarkService) Save(ctx context.Context, userID, propertyID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetProperty(ctx, tx, propertyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrPropertyNotFound
			}
			return err
		}
		if err := repo.CreateBookmark(ctx, tx, propertyID, userID); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrDuplicateBookmark
			}
			return err
		}
		return nil
	})
}

// Remove deletes the user's bookmark on propertyID, or ErrBookmarkNotFound.
func (s *BookmarkService) Remove(ctx context.Context, userID, propertyID string) error {
	err := repo.DeleteBookmark(ctx, s.DB, propertyID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrBookmarkNotFound
	}
	return err
}

// List returns the user's bookmarks, most recent first.
func (s *BookmarkService) List(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	return repo.ListBookmarks(ctx, s.DB, userID)
}
