// Package session serves persisted tour session rows to the mobile apps'
// resume-after-restart flow.
package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusloop/backend/internal/model/tour"
	"github.com/campusloop/backend/internal/store/postgres"
	"github.com/campusloop/backend/pkg/utils"
)

// Reader is the read-only slice of the session store this handler needs.
type Reader interface {
	GetSession(ctx context.Context, tourID string) (*tour.SessionRecord, error)
}

// Handler exposes session row lookups over HTTP.
type Handler struct {
	store Reader
}

// New creates the session handler.
func New(store Reader) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the session lookup routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tours/{tourID}/session", h.handleGetSession)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	tourID := chi.URLParam(r, "tourID")
	if tourID == "" {
		utils.RespondError(w, http.StatusBadRequest, "tourID is required")
		return
	}

	record, err := h.store.GetSession(r.Context(), tourID)
	if errors.Is(err, postgres.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, record)
}
