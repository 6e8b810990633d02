// Bookmark HTTP handlers.
//
// This file exposes REST endpoints for property bookmarks:
//   - POST   /properties/{id}/bookmark  (save)
//   - DELETE /properties/{id}/bookmark  (remove)
//   - GET    /bookmarks                 (list the user's bookmarks)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerfree/rental-backend/internal/services"
)

// SaveBookmark godoc
// @ID          saveBookmark
// @Summary     Bookmark a property
// @Description Saves the property to the user's bookmarks. One bookmark per
// @Description user and property.
// @Tags        Bookmarks
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"             example(usr-tenant-1)
// @Param       id         path    string  true  "Property ID (UUID)"  format(uuid)
//
// @Success     201  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Property not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already bookmarked"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /properties/{id}/bookmark [post]
func (h *Handlers) SaveBookmark(c *gin.Context) {
	propertyID := c.Param("id")
	if _, err := uuid.Parse(propertyID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "property id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	if err := h.bmSvc.Save(c.Request.Context(), uid, propertyID); err != nil {
		switch {
		case errors.Is(err, services.ErrPropertyNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "property not found")
		case errors.Is(err, services.ErrDuplicateBookmark):
			fail(c, http.StatusConflict, ErrCodeConflict, "bookmark already exists")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, gin.H{"status": "bookmarked"})
}

// RemoveBookmark godoc
// @ID          removeBookmark
// @Summary     Remove a bookmark
// @Tags        Bookmarks
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"             example(usr-tenant-1)
// @Param       id         path    string  true  "Property ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Bookmark not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /properties/{id}/bookmark [delete]
func (h *Handlers) RemoveBookmark(c *gin.Context) {
	propertyID := c.Param("id")
	if _, err := uuid.Parse(propertyID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "property id must be a UUID")
		return
	}
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	if err := h.bmSvc.Remove(c.Request.Context(), uid, propertyID); err != nil {
		switch {
		case errors.Is(err, services.ErrBookmarkNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "bookmark not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// ListBookmarks godoc
// @ID          listBookmarks
// @Summary     List the user's bookmarks
// @Tags        Bookmarks
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(usr-tenant-1)
//
// @Success     200  {object}  map[string]any
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bookmarks [get]
func (h *Handlers) ListBookmarks(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	items, err := h.bmSvc.List(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"bookmarks": items})
}
