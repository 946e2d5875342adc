package handlers

import (
	stderrors "errors"
	"mime"
	"net/http"

	"github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/models"
	"github.com/nahidhasan98/wacrm/internal/transcribe"
)

// kindNone tells the client to use its default text rendering
const kindNone = "none"

// DispatchMessage decides how a chat message should be rendered
func (h *Handler) DispatchMessage(w http.ResponseWriter, r *http.Request) {
	var req models.DispatchRequest
	if appErr := h.decodeJSON(w, r, &req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}
	if appErr := h.validator.ValidateDispatchRequest(&req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	h.writeJSON(w, h.render(req.Message, req.Sender), http.StatusOK)
}

func (h *Handler) render(m *message.Message, sender message.Sender) *models.DispatchResponse {
	if view, ok := h.dispatcher.Dispatch(m, sender); ok {
		return &models.DispatchResponse{Kind: string(view.Kind), View: view, Text: message.Text(view)}
	}
	if media, ok := h.dispatcher.Media(m); ok {
		return &models.DispatchResponse{Kind: string(media.Kind), Media: media, Text: media.Caption}
	}
	return &models.DispatchResponse{Kind: kindNone, Text: m.Text()}
}

// ContactCard downloads the contact of a message as a .vcf file, built from the
// message content when it carried no vCard text
func (h *Handler) ContactCard(w http.ResponseWriter, r *http.Request) {
	var req models.DispatchRequest
	if appErr := h.decodeJSON(w, r, &req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}
	if req.Sender == "" {
		req.Sender = message.SenderUser
	}
	if appErr := h.validator.ValidateDispatchRequest(&req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	view, ok := h.dispatcher.Dispatch(req.Message, req.Sender)
	if !ok || view.Contact == nil {
		h.writeAppError(w, errors.New(errors.ErrCodeUnsupportedMessage, "Message is not a contact"))
		return
	}

	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": view.Contact.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(view.Contact.VCF()); err != nil {
		h.log.Error("Failed to write contact card", err)
	}
}

// TranscribeMessage transcribes the audio of a message. A request for a message already
// being transcribed returns 202 with the in-flight entry.
func (h *Handler) TranscribeMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if appErr := h.validator.ValidateID("message id", id); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	var req models.TranscribeRequest
	if appErr := h.decodeJSON(w, r, &req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}
	if appErr := h.validator.ValidateTranscribeRequest(&req); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	entry, err := h.transcriber.Transcribe(r.Context(), id, req.AudioURL)
	if stderrors.Is(err, gateway.ErrMediaHostNotAllowed) {
		h.writeAppError(w, errors.ValidationError("'audioUrl' host is not allowed"))
		return
	}
	if err != nil {
		h.writeAppError(w, errors.TranscriptionFailed(err).WithDetails(entry.Error))
		return
	}

	status := http.StatusOK
	if entry.State == transcribe.StateTranscribing {
		status = http.StatusAccepted
	}
	h.writeJSON(w, entry, status)
}

// GetTranscription returns the tracked transcription state of a message
func (h *Handler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if appErr := h.validator.ValidateID("message id", id); appErr != nil {
		h.writeAppError(w, appErr)
		return
	}

	h.writeJSON(w, h.transcriber.Tracker().Get(id), http.StatusOK)
}
