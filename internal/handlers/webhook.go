package handlers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/models"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/encoding/protojson"
)

// SignatureHeader carries the hex HMAC-SHA512 of the delivery body
const SignatureHeader = "X-Webhook-Hmac"

// gatewayEvent is the envelope of every gateway webhook delivery
type gatewayEvent struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

// inboundMessage is the gateway "message" payload
type inboundMessage struct {
	message.Message
	From   string `json:"from"`
	To     string `json:"to"`
	FromMe bool   `json:"fromMe"`
	Media  *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
		Filename string `json:"filename"`
	} `json:"media,omitempty"`
	// Data is the engine's raw event; whatsmeow-based engines put the protobuf
	// message under "message" in protojson form
	Data *struct {
		Message json.RawMessage `json:"message"`
	} `json:"_data,omitempty"`
}

// native converts the whatsmeow message carried in _data. The gateway media URL
// wins over the WhatsApp CDN one, which needs decryption.
func (m *inboundMessage) native() (*message.Message, bool) {
	if m.Data == nil || len(m.Data.Message) == 0 {
		return nil, false
	}

	var pm waE2E.Message
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(m.Data.Message, &pm); err != nil {
		return nil, false
	}
	converted, ok := message.FromProto(m.ID, &pm)
	if !ok {
		return nil, false
	}
	converted.MediaURL = firstNonEmpty(m.MediaURL, converted.MediaURL)
	converted.Mimetype = firstNonEmpty(converted.Mimetype, m.Mimetype)
	converted.Filename = firstNonEmpty(converted.Filename, m.Filename)
	return converted, true
}

// chat returns the remote party of the conversation
func (m *inboundMessage) chat() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}

// GatewayWebhook receives session and message events pushed by the gateway and
// relays them to dashboard clients
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeAppError(w, errors.InvalidRequest("Failed to read request body: "+err.Error()))
		return
	}

	if !h.verifyWebhookSignature(body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("Invalid gateway webhook signature")
		h.writeAppError(w, errors.New(errors.ErrCodeUnauthorized, "Invalid webhook signature"))
		return
	}

	var evt gatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.writeAppError(w, errors.InvalidRequest("Invalid webhook payload: "+err.Error()))
		return
	}

	log := h.log.With("session", evt.Session).With("event", evt.Event)

	switch evt.Event {
	case "session.status":
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			h.writeAppError(w, errors.InvalidRequest("Invalid session.status payload: "+err.Error()))
			return
		}
		h.bus.Publish(events.SessionStatus{Session: evt.Session, Status: strings.ToLower(payload.Status)})
		log.Infof("Gateway session status: %s", payload.Status)

	case "message", "message.any":
		var in inboundMessage
		if err := json.Unmarshal(evt.Payload, &in); err != nil {
			h.writeAppError(w, errors.InvalidRequest("Invalid message payload: "+err.Error()))
			return
		}
		if in.Media != nil && in.MediaURL == "" {
			in.MediaURL = in.Media.URL
			in.Mimetype = firstNonEmpty(in.Mimetype, in.Media.Mimetype)
			in.Filename = firstNonEmpty(in.Filename, in.Media.Filename)
		}

		sender := message.SenderUser
		if in.FromMe {
			sender = message.SenderAgent
		}
		msg := &in.Message
		if converted, ok := in.native(); ok {
			msg = converted
		}
		rendered := h.render(msg, sender)

		received := events.MessageReceived{
			Session:   evt.Session,
			MessageID: in.ID,
			Chat:      in.chat(),
			Kind:      rendered.Kind,
			Text:      rendered.Text,
		}
		switch {
		case rendered.View != nil:
			received.View = rendered.View
		case rendered.Media != nil:
			received.View = rendered.Media
		}
		h.bus.Publish(received)
		log.With("message_id", in.ID).Debugf("Gateway message relayed as %s", rendered.Kind)

	default:
		log.Debug("Ignoring gateway event")
	}

	h.writeJSON(w, &models.StatusResponse{Status: "received", Message: evt.Event}, http.StatusOK)
}

// verifyWebhookSignature checks the HMAC-SHA512 of the payload. Deliveries are
// accepted unsigned when no secret is configured.
func (h *Handler) verifyWebhookSignature(payload []byte, headerSignature string) bool {
	if h.webhookSecret == "" {
		return true
	}
	if headerSignature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(h.webhookSecret))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(headerSignature)), []byte(expectedSignature))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
