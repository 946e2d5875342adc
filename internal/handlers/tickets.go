package handlers

import (
	"net/http"
	"time"

	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/models"
)

// AssumeTicket announces that an attendant took over a ticket so that every open
// dashboard refreshes its ticket list
func (h *Handler) AssumeTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if appErr := h.validator.ValidateID("ticket id", id); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	var req models.AssumeTicketRequest
	if appErr := h.decodeJSON(w, r, &req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}
	if appErr := h.validator.ValidateAssumeTicketRequest(&req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	h.bus.Publish(events.TicketAssumed{TicketID: id, ContactID: req.ContactID, AttendantID: req.AttendantID})
	h.log.With("ticket_id", id).With("attendant_id", req.AttendantID).Info("Ticket assumed")

	h.writeJSON(w, &models.AssumeTicketResponse{
		TicketID:    id,
		ContactID:   req.ContactID,
		AttendantID: req.AttendantID,
		AssumedAt:   time.Now().UTC(),
	}, http.StatusOK)
}
