package models

import (
	"time"

	"github.com/nahidhasan98/wacrm/internal/connect"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/store"
)

// ConnectionsResponse lists live flows and the persisted attempt history
type ConnectionsResponse struct {
	Active  []connect.Snapshot `json:"active"`
	History []store.Attempt    `json:"history"`
}

// DispatchRequest carries a chat message to be classified for rendering
type DispatchRequest struct {
	Message *message.Message `json:"message"`
	Sender  message.Sender   `json:"sender"`
}

// DispatchResponse is the rendering decision for a message. Kind is "none" when the
// caller should fall back to its default text rendering.
type DispatchResponse struct {
	Kind  string             `json:"kind"`
	View  *message.View      `json:"view,omitempty"`
	Media *message.MediaView `json:"media,omitempty"`
	Text  string             `json:"text,omitempty"`
}

// TranscribeRequest asks for the transcription of an audio message
type TranscribeRequest struct {
	AudioURL string `json:"audioUrl"`
}

// AssumeTicketRequest is sent when an attendant takes over a ticket
type AssumeTicketRequest struct {
	ContactID   string `json:"contactId"`
	AttendantID string `json:"attendantId"`
}

// AssumeTicketResponse echoes the published event
type AssumeTicketResponse struct {
	TicketID    string    `json:"ticketId"`
	ContactID   string    `json:"contactId"`
	AttendantID string    `json:"attendantId"`
	AssumedAt   time.Time `json:"assumedAt"`
}
