package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/nahidhasan98/wacrm/internal/connect"
	"github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/models"
	"github.com/nahidhasan98/wacrm/internal/store"
)

const defaultHistoryLimit = 50

// ListConnections returns the live flows and recent persisted attempts
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	limitParam := r.URL.Query().Get("limit")
	if appErr := h.validator.ValidateQueryParams(map[string]string{"limit": limitParam}); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}
	limit := defaultHistoryLimit
	if limitParam != "" {
		limit, _ = strconv.Atoi(limitParam)
	}

	history, err := h.attempts.List(r.Context(), limit)
	if err != nil {
		h.writeAppError(w, errors.DatabaseError(err))
		return
	}
	if history == nil {
		history = []store.Attempt{}
	}

	h.writeJSON(w, &models.ConnectionsResponse{
		Active:  h.connections.List(),
		History: history,
	}, http.StatusOK)
}

// StartConnection starts the bootstrap flow for a user
func (h *Handler) StartConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	snap, err := h.connections.Start(user)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.With("user", user).Info("Connection flow started")
	h.writeJSON(w, snap, http.StatusAccepted)
}

// GetConnection returns the live flow, or the last persisted attempt when the
// flow is no longer held in memory
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	snap, err := h.connections.Status(user)
	if err == nil {
		h.writeJSON(w, snap, http.StatusOK)
		return
	}
	if appErr, isApp := errors.As(err); !isApp || appErr.Code != errors.ErrCodeFlowNotFound {
		h.writeError(w, err)
		return
	}

	attempt, lookupErr := h.attempts.Latest(r.Context(), user)
	if stderrors.Is(lookupErr, store.ErrNotFound) {
		h.writeError(w, err)
		return
	}
	if lookupErr != nil {
		h.writeAppError(w, errors.DatabaseError(lookupErr))
		return
	}

	h.writeJSON(w, connect.Snapshot{
		User:      attempt.User,
		Session:   attempt.Session,
		State:     attempt.State,
		Error:     attempt.Error,
		Polls:     attempt.Polls,
		UpdatedAt: attempt.UpdatedAt,
	}, http.StatusOK)
}

// RetryConnection restarts a flow that ended in error
func (h *Handler) RetryConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	snap, err := h.connections.Retry(user)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.With("user", user).Info("Connection flow restarted")
	h.writeJSON(w, snap, http.StatusAccepted)
}

// CancelConnection stops a running flow
func (h *Handler) CancelConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	snap, err := h.connections.Cancel(user)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.With("user", user).Info("Connection flow cancelled")
	h.writeJSON(w, snap, http.StatusOK)
}

// ConnectionQR serves the QR image currently held by the user's flow
func (h *Handler) ConnectionQR(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	img, err := h.connections.QR(user)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		h.log.Error("Failed to write QR image", err)
	}
}

func (h *Handler) userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.PathValue("user")
	if appErr := h.validator.ValidateUserID(user); appErr != nil {
		h.writeAppError(w, appErr)
		return "", false
	}
	return user, true
}
