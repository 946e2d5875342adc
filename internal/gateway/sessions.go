package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Status is the gateway-reported session status, normalised to lower case
type Status string

const (
	StatusWorking    Status = "working"
	StatusScanQRCode Status = "scan_qr_code"
	StatusStarting   Status = "starting"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// UnmarshalJSON accepts any casing ("WORKING", "working")
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Status(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// Session is the gateway view of a WhatsApp connection
type Session struct {
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Config *SessionConfig `json:"config,omitempty"`
	Me     *SessionMe     `json:"me,omitempty"`
}

// SessionMe identifies the linked phone once the session is working
type SessionMe struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// SessionConfig is sent when creating a session
type SessionConfig struct {
	Webhooks []Webhook `json:"webhooks,omitempty"`
}

// Webhook asks the gateway to deliver events to URL
type Webhook struct {
	URL    string       `json:"url"`
	Events []string     `json:"events"`
	HMAC   *WebhookHMAC `json:"hmac,omitempty"`
}

// WebhookHMAC makes the gateway sign deliveries with Key
type WebhookHMAC struct {
	Key string `json:"key"`
}

// CreateSessionRequest is the body of the session creation call
type CreateSessionRequest struct {
	Name   string         `json:"name"`
	Config *SessionConfig `json:"config,omitempty"`
}

func sessionPath(name string) string {
	return "/api/whatsapp/sessions/" + url.PathEscape(name)
}

// ListSessions returns every session visible to the credentials
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/whatsapp/sessions", nil, &raw); err != nil {
		return nil, err
	}
	return decodeSessions(raw)
}

// decodeSessions accepts a bare array or an object wrapping it in "sessions" or "data"
func decodeSessions(raw json.RawMessage) ([]Session, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []Session
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to decode sessions: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Sessions []Session `json:"sessions"`
		Data     []Session `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	if wrapped.Sessions != nil {
		return wrapped.Sessions, nil
	}
	return wrapped.Data, nil
}

// GetSession fetches one session's current status
func (c *Client) GetSession(ctx context.Context, name string) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(name), nil, &s); err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = name
	}
	return &s, nil
}

// CreateSession creates a session. A 409 from the gateway means the session already
// exists and is reported as created=false with a nil error.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (bool, error) {
	err := c.doJSON(ctx, http.MethodPost, "/api/whatsapp/sessions", req, nil)
	if IsStatus(err, http.StatusConflict) {
		c.log.With("session", req.Name).Info("Session already exists on gateway")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StartSession asks the gateway to start the session
func (c *Client) StartSession(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(name)+"/start", struct{}{}, nil)
}
