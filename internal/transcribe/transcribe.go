// Package transcribe turns audio messages into text through the gateway and tracks the
// per-message transcription state shown next to each voice note.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

// State of one message's transcription
type State string

const (
	StateIdle         State = "idle"
	StateTranscribing State = "transcribing"
	StateDone         State = "done"
	StateError        State = "error"
)

// ErrNoAudio is returned when the message has no audio URL
var ErrNoAudio = errors.New("audio URL is required")

// Gateway is the subset of the gateway client used for transcription
type Gateway interface {
	DownloadMedia(ctx context.Context, rawURL string) (*gateway.Media, error)
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Entry is the tracked state of one message
type Entry struct {
	MessageID string    `json:"messageId"`
	State     State     `json:"state"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tracker holds per-message transcription state
type Tracker struct {
	mu      sync.Mutex
	entries map[string]Entry
	bus     *events.Bus
	now     func() time.Time
}

// NewTracker creates an empty tracker publishing changes to bus (may be nil)
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		entries: make(map[string]Entry),
		bus:     bus,
		now:     time.Now,
	}
}

// Get returns the entry for id; unknown messages are idle
func (t *Tracker) Get(id string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		return e
	}
	return Entry{MessageID: id, State: StateIdle}
}

// Reset returns the message to idle
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()

	t.publish(Entry{MessageID: id, State: StateIdle})
}

// begin moves id to transcribing. It reports false when a transcription is already running.
func (t *Tracker) begin(id string) (Entry, bool) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok && e.State == StateTranscribing {
		t.mu.Unlock()
		return e, false
	}
	e := Entry{MessageID: id, State: StateTranscribing, UpdatedAt: t.now()}
	t.entries[id] = e
	t.mu.Unlock()

	t.publish(e)
	return e, true
}

func (t *Tracker) finish(id, text string, err error) Entry {
	e := Entry{MessageID: id, State: StateDone, Text: text, UpdatedAt: t.now()}
	if err != nil {
		e.State = StateError
		e.Text = ""
		e.Error = err.Error()
	}

	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()

	t.publish(e)
	return e
}

// Cleanup forgets finished entries not updated within maxAge. Running transcriptions
// are kept.
func (t *Tracker) Cleanup(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	for id, e := range t.entries {
		if e.State != StateTranscribing && e.UpdatedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}

// RunCleanup periodically evicts finished entries older than maxAge until ctx is done
func (t *Tracker) RunCleanup(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup(maxAge)
		}
	}
}

func (t *Tracker) publish(e Entry) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.TranscriptionState{
		MessageID: e.MessageID,
		State:     string(e.State),
		Text:      e.Text,
		Error:     e.Error,
	})
}

// Service downloads audio and posts it for transcription
type Service struct {
	gw      Gateway
	tracker *Tracker
	log     *logger.Logger
}

// NewService creates a transcription service
func NewService(gw Gateway, tracker *Tracker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gw: gw, tracker: tracker, log: log}
}

// Tracker exposes the state store
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Transcribe runs a transcription for messageID. A call made while the same message is
// already transcribing returns the in-flight entry without starting a second request.
// Failures are recorded on the entry and also returned.
func (s *Service) Transcribe(ctx context.Context, messageID, audioURL string) (Entry, error) {
	if strings.TrimSpace(audioURL) == "" {
		return s.tracker.finish(messageID, "", ErrNoAudio), ErrNoAudio
	}

	entry, started := s.tracker.begin(messageID)
	if !started {
		return entry, nil
	}

	log := s.log.With("message_id", messageID)
	log.Debug("Transcribing audio message")

	text, err := s.run(ctx, audioURL)
	if err != nil {
		log.Error("Transcription failed", err)
		return s.tracker.finish(messageID, "", err), err
	}

	log.Info("Audio transcribed")
	return s.tracker.finish(messageID, text, nil), nil
}

func (s *Service) run(ctx context.Context, audioURL string) (string, error) {
	media, err := s.gw.DownloadMedia(ctx, audioURL)
	if err != nil {
		return "", fmt.Errorf("failed to download audio: %w", err)
	}

	text, err := s.gw.Transcribe(ctx, audioFileName(audioURL, media.ContentType), media.Data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// audioFileName keeps the URL's file name when it has an extension, otherwise derives
// one from the content type
func audioFileName(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); path.Ext(base) != "" {
			return base
		}
	}

	mt, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mt)) {
	case "audio/ogg", "audio/opus":
		return "audio.ogg"
	case "audio/mpeg":
		return "audio.mp3"
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return "audio" + exts[0]
	}
	return "audio.ogg"
}
