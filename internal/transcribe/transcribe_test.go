package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
)

func newService(t *testing.T, handler http.HandlerFunc, bus *events.Bus) *Service {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := gateway.New(srv.URL, gateway.StaticToken("token"))
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	return NewService(client, NewTracker(bus), nil)
}

func TestTranscribeRoundTrip(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub, cancel := bus.Subscribe(8, events.KindTranscription)
	defer cancel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/voice.ogg":
			w.Header().Set("Content-Type", "audio/ogg")
			w.Write([]byte("OggS"))
		case "/api/transcribe":
			_, header, err := r.FormFile("audio")
			if err != nil || header.Filename != "voice.ogg" {
				t.Errorf("unexpected upload: %v", err)
			}
			io.WriteString(w, `{"success":true,"text":"hello"}`)
		default:
			http.NotFound(w, r)
		}
	}, bus)

	if got := svc.Tracker().Get("m1").State; got != StateIdle {
		t.Fatalf("expected idle before transcription, got %s", got)
	}

	entry, err := svc.Transcribe(context.Background(), "m1", "/media/voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if entry.State != StateDone || entry.Text != "hello" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := svc.Tracker().Get("m1"); got.State != StateDone || got.Text != "hello" {
		t.Fatalf("tracker not updated: %+v", got)
	}

	var states []string
	for len(states) < 2 {
		select {
		case evt := <-sub.C:
			states = append(states, evt.Data.(events.TranscriptionState).State)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", states)
		}
	}
	if states[0] != "transcribing" || states[1] != "done" {
		t.Fatalf("unexpected state sequence %v", states)
	}
}

func TestTranscribeFailureIsRecorded(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/transcribe" {
			io.WriteString(w, `{"success":false,"error":"too long"}`)
			return
		}
		w.Write([]byte("OggS"))
	}, nil)

	entry, err := svc.Transcribe(context.Background(), "m2", "/media/a.ogg")
	if !errors.Is(err, gateway.ErrTranscriptionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if entry.State != StateError || entry.Error == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	svc.Tracker().Reset("m2")
	if got := svc.Tracker().Get("m2").State; got != StateIdle {
		t.Fatalf("expected idle after reset, got %s", got)
	}
}

func TestTranscribeRequiresURL(t *testing.T) {
	svc := NewService(nil, NewTracker(nil), nil)

	entry, err := svc.Transcribe(context.Background(), "m3", " ")
	if !errors.Is(err, ErrNoAudio) || entry.State != StateError {
		t.Fatalf("expected ErrNoAudio, got %+v %v", entry, err)
	}
}

func TestConcurrentCallReturnsInFlightEntry(t *testing.T) {
	release := make(chan struct{})
	var posts atomic.Int32

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/transcribe" {
			posts.Add(1)
			<-release
			io.WriteString(w, `{"success":true,"text":"ok"}`)
			return
		}
		w.Write([]byte("OggS"))
	}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Transcribe(context.Background(), "m4", "/media/a.ogg")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for svc.Tracker().Get("m4").State != StateTranscribing {
		if time.Now().After(deadline) {
			t.Fatal("transcription never started")
		}
		time.Sleep(time.Millisecond)
	}

	entry, err := svc.Transcribe(context.Background(), "m4", "/media/a.ogg")
	if err != nil || entry.State != StateTranscribing {
		t.Fatalf("expected in-flight entry, got %+v %v", entry, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first transcription failed: %v", err)
	}
	if posts.Load() != 1 {
		t.Fatalf("expected a single upload, got %d", posts.Load())
	}
}

func TestCleanupForgetsFinishedEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(nil)
	tr.now = func() time.Time { return now }

	tr.finish("old-done", "hi", nil)
	tr.finish("old-error", "", errors.New("boom"))
	tr.begin("old-running")

	now = now.Add(2 * time.Hour)
	tr.finish("fresh", "ok", nil)

	tr.Cleanup(time.Hour)

	if got := tr.Get("old-done").State; got != StateIdle {
		t.Fatalf("expected old done entry to be evicted, got %s", got)
	}
	if got := tr.Get("old-error").State; got != StateIdle {
		t.Fatalf("expected old error entry to be evicted, got %s", got)
	}
	if got := tr.Get("old-running").State; got != StateTranscribing {
		t.Fatalf("expected running entry to be kept, got %s", got)
	}
	if got := tr.Get("fresh"); got.State != StateDone || got.Text != "ok" {
		t.Fatalf("expected fresh entry to be kept, got %+v", got)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.entries) != 2 {
		t.Fatalf("expected 2 entries left, got %d", len(tr.entries))
	}
}

func TestAudioFileName(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"/media/voice.ogg", "", "voice.ogg"},
		{"/media/abc", "audio/ogg; codecs=opus", "audio.ogg"},
		{"/media/abc", "audio/mpeg", "audio.mp3"},
		{"/media/abc", "", "audio.ogg"},
	}
	for _, tt := range tests {
		if got := audioFileName(tt.url, tt.contentType); got != tt.want {
			t.Errorf("audioFileName(%q, %q) = %q, want %q", tt.url, tt.contentType, got, tt.want)
		}
	}
}
