package gateway_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nahidhasan98/wacrm/internal/config"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

func newClient(t *testing.T, srv *httptest.Server, opts ...gateway.Option) *gateway.Client {
	t.Helper()

	c, err := gateway.New(srv.URL, gateway.StaticToken("secret-token"), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestListSessionsSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.URL.Path != "/api/whatsapp/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"name":"u1_1","status":"WORKING"},{"name":"u2_1","status":"scan_qr_code"}]`)
	}))
	defer srv.Close()

	sessions, err := newClient(t, srv).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Status != gateway.StatusWorking {
		t.Fatalf("expected status to be normalised to working, got %q", sessions[0].Status)
	}
	if sessions[1].Status != gateway.StatusScanQRCode {
		t.Fatalf("expected scan_qr_code, got %q", sessions[1].Status)
	}
}

func TestListSessionsWrappedShapes(t *testing.T) {
	bodies := map[string]string{
		"sessions": `{"sessions":[{"name":"a","status":"starting"}]}`,
		"data":     `{"data":[{"name":"a","status":"starting"}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			sessions, err := newClient(t, srv).ListSessions(context.Background())
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(sessions) != 1 || sessions[0].Name != "a" {
				t.Fatalf("unexpected sessions: %+v", sessions)
			}
		})
	}
}

func TestCreateSessionToleratesConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"session already exists"}`)
	}))
	defer srv.Close()

	created, err := newClient(t, srv).CreateSession(context.Background(), gateway.CreateSessionRequest{Name: "u1_1"})
	if err != nil {
		t.Fatalf("expected 409 to be tolerated, got %v", err)
	}
	if created {
		t.Fatal("expected created=false for an existing session")
	}
}

func TestCreateSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).CreateSession(context.Background(), gateway.CreateSessionRequest{Name: "u1_1"})
	if !gateway.IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("expected a 500 StatusError, got %v", err)
	}
}

func TestFetchQRFallsBackToSecondCandidate(t *testing.T) {
	var mu sync.Mutex
	var order []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()

		if r.Header.Get("Accept") != "image/png" {
			t.Errorf("expected Accept image/png, got %q", r.Header.Get("Accept"))
		}

		switch r.URL.Path {
		case "/api/whatsapp/u1_1/auth/qr":
			if r.URL.Query().Get("format") != "image" {
				t.Errorf("expected format=image, got %q", r.URL.RawQuery)
			}
			w.WriteHeader(http.StatusOK) // empty body
		case "/api/whatsapp/sessions/u1_1/qr":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG fake"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	img, err := newClient(t, srv).FetchQR(context.Background(), "u1_1")
	if err != nil {
		t.Fatalf("FetchQR failed: %v", err)
	}
	if img.Source != "/api/whatsapp/sessions/u1_1/qr" {
		t.Fatalf("expected second candidate to win, got %s", img.Source)
	}
	if len(order) != 2 || order[0] != "/api/whatsapp/u1_1/auth/qr" {
		t.Fatalf("expected first candidate to be tried first, got %v", order)
	}
}

func TestFetchQRUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not ready", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).FetchQR(context.Background(), "u1_1")
	if !errors.Is(err, gateway.ErrQRUnavailable) {
		t.Fatalf("expected ErrQRUnavailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected both candidates to be tried, got %d calls", calls.Load())
	}
}

func TestFetchQRValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "raw" {
			t.Errorf("expected format=raw, got %q", r.URL.RawQuery)
		}
		io.WriteString(w, `{"value":"2@abc,def"}`)
	}))
	defer srv.Close()

	value, err := newClient(t, srv).FetchQRValue(context.Background(), "u1_1")
	if err != nil {
		t.Fatalf("FetchQRValue failed: %v", err)
	}
	if value != "2@abc,def" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestEncodeQR(t *testing.T) {
	img, err := gateway.EncodeQR("2@abc,def", 128)
	if err != nil {
		t.Fatalf("EncodeQR failed: %v", err)
	}
	if img.ContentType != "image/png" || !strings.HasPrefix(string(img.Data), "\x89PNG") {
		t.Fatalf("expected a PNG image, got %s", img.ContentType)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("expected multipart field audio: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "OggS-audio" || header.Filename != "voice.ogg" {
			t.Errorf("unexpected upload %q (%s)", data, header.Filename)
		}
		io.WriteString(w, `{"success":true,"text":"hello"}`)
	}))
	defer srv.Close()

	text, err := newClient(t, srv).Transcribe(context.Background(), "voice.ogg", []byte("OggS-audio"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected hello, got %q", text)
	}
}

func TestTranscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"error":"unsupported codec"}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Transcribe(context.Background(), "a.ogg", []byte("x"))
	if !errors.Is(err, gateway.ErrTranscriptionRejected) {
		t.Fatalf("expected ErrTranscriptionRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported codec") {
		t.Fatalf("expected gateway reason in error, got %v", err)
	}
}

func TestDownloadMediaDoesNotLeakTokenToForeignHosts(t *testing.T) {
	foreign := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("token leaked to foreign host")
		}
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write([]byte("OggS"))
	}))
	defer foreign.Close()

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("expected token on gateway media")
		}
		w.Write([]byte("OggS"))
	}))
	defer gw.Close()

	c := newClient(t, gw, gateway.WithHTTPClient(foreign.Client()), gateway.WithMediaHosts("127.0.0.1"))

	media, err := c.DownloadMedia(context.Background(), foreign.URL+"/file.ogg")
	if err != nil {
		t.Fatalf("DownloadMedia (foreign) failed: %v", err)
	}
	if media.ContentType != "audio/ogg" {
		t.Fatalf("unexpected content type %q", media.ContentType)
	}

	if _, err := c.DownloadMedia(context.Background(), "/media/file.ogg"); err != nil {
		t.Fatalf("DownloadMedia (relative) failed: %v", err)
	}
}

func TestDownloadMediaRejectsUnlistedHosts(t *testing.T) {
	var hits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("OggS"))
	}))
	defer foreign.Close()

	gw := httptest.NewServer(http.NotFoundHandler())
	defer gw.Close()

	c := newClient(t, gw, gateway.WithMediaHosts("127.0.0.1", "cdn.example.com"))

	for _, raw := range []string{
		foreign.URL + "/file.ogg",
		"https://169.254.169.254/latest/meta-data",
		"https://internal.example.com/a.ogg",
	} {
		if _, err := c.DownloadMedia(context.Background(), raw); !errors.Is(err, gateway.ErrMediaHostNotAllowed) {
			t.Errorf("%s: expected ErrMediaHostNotAllowed, got %v", raw, err)
		}
	}
	if _, err := c.DownloadMedia(context.Background(), "//evil.example.com/a.ogg"); err == nil {
		t.Error("expected protocol-relative URL to be rejected")
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request to leave for a rejected host, got %d", hits.Load())
	}
}

func TestDownloadMediaTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, gateway.WithMaxMediaBytes(16)).DownloadMedia(context.Background(), "/big")
	if err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestFileToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  rotated-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	token, err := gateway.FileToken{Path: path}.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "rotated-token" {
		t.Fatalf("expected trimmed token, got %q", token)
	}

	if _, err := (gateway.FileToken{Path: filepath.Join(t.TempDir(), "missing")}).Token(context.Background()); err == nil {
		t.Fatal("expected error for missing token file")
	}
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	if _, err := gateway.New("/relative", gateway.StaticToken("x")); err == nil {
		t.Fatal("expected error for relative base URL")
	}
}

func TestSessionConfigFromConfig(t *testing.T) {
	if gateway.SessionConfigFromConfig(config.GatewayConfig{}) != nil {
		t.Fatal("expected no webhook without a URL")
	}

	sc := gateway.SessionConfigFromConfig(config.GatewayConfig{
		WebhookURL:    "https://crm.example.com/webhooks/gateway",
		WebhookEvents: []string{"message"},
		WebhookSecret: "s3cret",
	})
	if sc == nil || len(sc.Webhooks) != 1 {
		t.Fatalf("unexpected session config %+v", sc)
	}
	if hook := sc.Webhooks[0]; hook.HMAC == nil || hook.HMAC.Key != "s3cret" || hook.Events[0] != "message" {
		t.Fatalf("unexpected webhook %+v", hook)
	}
}

func TestFromConfigPrefersTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	client, err := gateway.FromConfig(&config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:           srv.URL,
			Token:             "static-token",
			TokenFile:         path,
			Timeout:           time.Second,
			RequestsPerSecond: 5,
		},
		Transcribe: config.TranscribeConfig{URL: srv.URL + "/api/transcribe", MaxBytes: 1024},
	}, logger.Nop())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if _, err := client.ListSessions(context.Background()); err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if got != "Bearer file-token" {
		t.Fatalf("expected file token to be used, got %q", got)
	}
}
