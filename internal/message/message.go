// Package message classifies heterogeneous gateway messages into a closed set of kinds
// and extracts what each kind needs to be rendered.
package message

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind is the semantic type of a message
type Kind string

const (
	KindLocation Kind = "location"
	KindPoll     Kind = "poll"
	KindContact  Kind = "contact"
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindText     Kind = "text"
	KindUnknown  Kind = "unknown"
)

var kindAliases = map[string]Kind{
	"location":      KindLocation,
	"live_location": KindLocation,
	"livelocation":  KindLocation,
	"poll":          KindPoll,
	"poll_creation": KindPoll,
	"contact":       KindContact,
	"contacts":      KindContact,
	"vcard":         KindContact,
	"document":      KindDocument,
	"file":          KindDocument,
	"image":         KindImage,
	"sticker":       KindImage,
	"audio":         KindAudio,
	"ptt":           KindAudio,
	"voice":         KindAudio,
	"video":         KindVideo,
	"text":          KindText,
	"chat":          KindText,
	"conversation":  KindText,
}

// ParseKind maps a gateway type tag onto a Kind. Unrecognised tags report false.
func ParseKind(tag string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(tag))]
	return k, ok
}

// Sender tells which side of the conversation wrote the message
type Sender string

const (
	SenderAgent Sender = "agent"
	SenderUser  Sender = "user"
)

// Valid reports whether s is a known sender
func (s Sender) Valid() bool {
	return s == SenderAgent || s == SenderUser
}

// Message is a gateway message with every field optional. Structured payloads
// (location, poll, contact) are kept raw since their shape varies by source.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Body      string          `json:"body,omitempty"`
	Content   string          `json:"content,omitempty"`
	Caption   string          `json:"caption,omitempty"`
	MediaURL  string          `json:"mediaUrl,omitempty"`
	Mimetype  string          `json:"mimetype,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	PTT       bool            `json:"ptt,omitempty"`
	Latitude  *Coordinate     `json:"latitude,omitempty"`
	Longitude *Coordinate     `json:"longitude,omitempty"`
	Location  json.RawMessage `json:"location,omitempty"`
	Poll      json.RawMessage `json:"poll,omitempty"`
	PollData  json.RawMessage `json:"pollData,omitempty"`
	Contact   json.RawMessage `json:"contact,omitempty"`
	VCard     string          `json:"vcard,omitempty"`
}

// Text returns the free-text part of the message
func (m *Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Body
}

// Coordinate accepts a JSON number or a numeric string
type Coordinate float64

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*c = Coordinate(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = Coordinate(f)
	return nil
}

// present reports whether a raw payload carries anything
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "{}", "[]", `""`, "false":
		return false
	}
	return true
}

// object decodes raw into a generic map; strings and other shapes yield nil
func object(raw json.RawMessage) map[string]any {
	if !present(raw) {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// rawString decodes raw as a JSON string
func rawString(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func pickString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func pickFloat(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
