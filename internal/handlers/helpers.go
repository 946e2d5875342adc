package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/models"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode JSON response", err)
	}
}

// writeAppError writes an application error response
func (h *Handler) writeAppError(w http.ResponseWriter, appErr *errors.AppError) {
	response := &models.ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	}

	// Log the error for internal monitoring
	h.log.With("error_code", appErr.Code).
		With("status_code", appErr.StatusCode).
		Error(appErr.Message, appErr.Err)

	h.writeJSON(w, response, appErr.StatusCode)
}

// writeError writes err, treating anything that is not an AppError as internal
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		h.writeAppError(w, appErr)
		return
	}
	h.writeAppError(w, errors.InternalError(err))
}

// decodeJSON reads a bounded JSON body into v
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) *errors.AppError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidRequest("Invalid JSON payload: " + err.Error())
	}
	return nil
}
