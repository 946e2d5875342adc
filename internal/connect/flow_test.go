package connect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
)

// fakeGateway is an in-memory stand-in for the WhatsApp gateway REST API
type fakeGateway struct {
	mu         sync.Mutex
	sessions   []gateway.Session
	createCode int
	qrImage    bool
	qrAfter    int
	statusFn   func(poll int) string
	calls      map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		createCode: http.StatusCreated,
		statusFn:   func(int) string { return "SCAN_QR_CODE" },
		calls:      make(map[string]int),
	}
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/whatsapp/sessions":
		g.calls["list"]++
		json.NewEncoder(w).Encode(g.sessions)

	case r.Method == http.MethodPost && r.URL.Path == "/api/whatsapp/sessions":
		g.calls["create"]++
		w.WriteHeader(g.createCode)
		w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && len(parts) == 5 && parts[4] == "start":
		g.calls["start"]++
		w.Write([]byte(`{}`))

	case r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "sessions":
		g.calls["status"]++
		json.NewEncoder(w).Encode(map[string]string{"name": parts[3], "status": g.statusFn(g.calls["status"])})

	case r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "auth":
		g.calls["qr"]++
		if !g.qrImage && (g.qrAfter == 0 || g.calls["status"] < g.qrAfter) {
			http.Error(w, "no qr", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG qr"))

	case r.Method == http.MethodGet && len(parts) == 5 && parts[4] == "qr":
		g.calls["qr-fallback"]++
		http.Error(w, "no qr", http.StatusNotFound)

	default:
		http.NotFound(w, r)
	}
}

func fastTiming(maxPolls int) Timing {
	return Timing{
		InitDelay:        time.Millisecond,
		StartDelay:       time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		MaxPolls:         maxPolls,
		ConnectedDelay:   time.Millisecond,
		StatusCheckDelay: 5 * time.Millisecond,
	}
}

func newTestFlow(t *testing.T, fake *fakeGateway, timing Timing, opts Options) *Flow {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := gateway.New(srv.URL, gateway.StaticToken("token"))
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	return NewFlow("u1", client, timing, opts)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Record(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

func TestReuseWorkingSessionSkipsCreate(t *testing.T) {
	fake := newFakeGateway()
	fake.sessions = []gateway.Session{
		{Name: "u2_1", Status: gateway.StatusWorking},
		{Name: "u1_1700000000100", Status: gateway.StatusWorking},
	}

	var notified Snapshot
	flow := newTestFlow(t, fake, fastTiming(3), Options{
		OnConnected: func(s Snapshot) { notified = s },
	})

	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := flow.Snapshot().State; got != StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if fake.count("create") != 0 {
		t.Fatalf("expected no create call, got %d", fake.count("create"))
	}
	if notified.Session != "u1_1700000000100" {
		t.Fatalf("expected OnConnected for u1_1700000000100, got %+v", notified)
	}
}

func TestCreateConflictIsNotAnError(t *testing.T) {
	fake := newFakeGateway()
	fake.createCode = http.StatusConflict
	fake.qrImage = true
	fake.statusFn = func(poll int) string {
		if poll >= 2 {
			return "WORKING"
		}
		return "SCAN_QR_CODE"
	}

	bus := events.NewBus()
	defer bus.Close()
	sub, cancel := bus.Subscribe(32, events.KindConnectionState, events.KindConnectionConnected)
	defer cancel()

	rec := &recorder{}
	flow := newTestFlow(t, fake, fastTiming(10), Options{Bus: bus, Recorder: rec})

	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fake.count("start") != 1 {
		t.Fatalf("expected start to be called once, got %d", fake.count("start"))
	}
	if fake.count("qr") == 0 {
		t.Fatal("expected QR retrieval after create")
	}

	snap := flow.Snapshot()
	if snap.State != StateConnected || snap.HasQR {
		t.Fatalf("expected connected with QR released, got %+v", snap)
	}
	if !strings.HasPrefix(snap.Session, "u1_") {
		t.Fatalf("unexpected session name %q", snap.Session)
	}

	var transitions []string
	var connected bool
	for len(transitions) < 3 || !connected {
		select {
		case evt := <-sub.C:
			switch p := evt.Data.(type) {
			case events.ConnectionState:
				transitions = append(transitions, p.To)
			case events.Connected:
				connected = true
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events, got transitions %v connected=%v", transitions, connected)
		}
	}
	want := []string{"creating", "qr_ready", "connected"}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}

	states := rec.states()
	if len(states) == 0 || states[len(states)-1] != StateConnected {
		t.Fatalf("expected recorder to see connected last, got %v", states)
	}
}

func TestQRRetriedWhileAwaitingScan(t *testing.T) {
	fake := newFakeGateway()
	fake.qrAfter = 2
	fake.statusFn = func(poll int) string {
		if poll >= 4 {
			return "WORKING"
		}
		return "SCAN_QR_CODE"
	}

	rec := &recorder{}
	flow := newTestFlow(t, fake, fastTiming(10), Options{Recorder: rec})
	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := fake.count("qr"); got < 3 {
		t.Fatalf("expected QR retrieval to be retried while polling, got %d calls", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var ready *Snapshot
	for i := range rec.snaps {
		if rec.snaps[i].State == StateQRReady {
			ready = &rec.snaps[i]
			break
		}
	}
	if ready == nil {
		t.Fatalf("expected a qr_ready transition, got %+v", rec.snaps)
	}
	if ready.Polls != 2 || !ready.HasQR {
		t.Fatalf("expected qr_ready on the second status poll, got %+v", *ready)
	}
	if last := rec.snaps[len(rec.snaps)-1]; last.State != StateConnected {
		t.Fatalf("expected connected last, got %+v", last)
	}
}

func TestScanQRCodeSessionSkipsCreate(t *testing.T) {
	fake := newFakeGateway()
	fake.sessions = []gateway.Session{{Name: "u1_1700000000005", Status: gateway.StatusScanQRCode}}
	fake.qrImage = true
	fake.statusFn = func(int) string { return "WORKING" }

	flow := newTestFlow(t, fake, fastTiming(3), Options{})
	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fake.count("create") != 0 || fake.count("start") != 0 {
		t.Fatalf("expected no create/start, got create=%d start=%d", fake.count("create"), fake.count("start"))
	}
	if flow.Snapshot().Session != "u1_1700000000005" {
		t.Fatalf("expected existing session to be used, got %q", flow.Snapshot().Session)
	}
}

func TestNoQRFallsBackToStatusCheck(t *testing.T) {
	fake := newFakeGateway()
	fake.statusFn = func(int) string { return "WORKING" }

	flow := newTestFlow(t, fake, fastTiming(3), Options{})
	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fake.count("qr") == 0 || fake.count("qr-fallback") == 0 {
		t.Fatalf("expected both QR endpoints to be tried, got qr=%d fallback=%d", fake.count("qr"), fake.count("qr-fallback"))
	}
	if flow.Snapshot().State != StateConnected {
		t.Fatalf("expected connected, got %s", flow.Snapshot().State)
	}
}

func TestPollingStopsAtBound(t *testing.T) {
	fake := newFakeGateway()
	fake.qrImage = true

	flow := newTestFlow(t, fake, fastTiming(4), Options{})

	err := flow.Run(context.Background())
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if got := fake.count("status"); got != 4 {
		t.Fatalf("expected 4 status polls, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := fake.count("status"); got != 4 {
		t.Fatalf("polling continued after the bound: %d calls", got)
	}

	snap := flow.Snapshot()
	if snap.State != StateError || snap.HasQR || snap.Polls != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if flow.QR() != nil {
		t.Fatal("expected QR to be released on error")
	}
}

func TestCreateFailureMovesToError(t *testing.T) {
	fake := newFakeGateway()
	fake.createCode = http.StatusInternalServerError

	flow := newTestFlow(t, fake, fastTiming(3), Options{})

	err := flow.Run(context.Background())
	if !gateway.IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("expected a 500 status error, got %v", err)
	}
	if flow.Snapshot().State != StateError {
		t.Fatalf("expected error state, got %s", flow.Snapshot().State)
	}
	if fake.count("start") != 0 {
		t.Fatal("start must not be called after a failed create")
	}
}

func TestStaleGenerationIsIgnored(t *testing.T) {
	flow := NewFlow("u1", nil, fastTiming(3), Options{})

	old := flow.begin()
	current := flow.begin()

	if _, err := flow.countPoll(old); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for old generation, got %v", err)
	}
	if err := flow.connected(context.Background(), old); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected stale connect to be rejected, got %v", err)
	}
	flow.fail(old, errors.New("late failure"))

	snap := flow.Snapshot()
	if snap.State != StateCreating || snap.Error != "" {
		t.Fatalf("stale results changed the flow: %+v", snap)
	}
	if polls, err := flow.countPoll(current); err != nil || polls != 1 {
		t.Fatalf("expected current generation to count polls, got %d, %v", polls, err)
	}
}

func TestFindSession(t *testing.T) {
	sessions := []gateway.Session{
		{Name: "u1_1700000000100", Status: gateway.StatusStopped},
		{Name: "u1_1700000000200", Status: gateway.StatusScanQRCode},
		{Name: "u1_extra_1700000000300", Status: gateway.StatusWorking},
		{Name: "u10_1700000000400", Status: gateway.StatusWorking},
		{Name: "a_5", Status: gateway.StatusWorking},
		{Name: "1700000000000", Status: gateway.StatusWorking},
	}

	tests := []struct {
		name string
		user string
		want string
	}{
		{"prefers scan over stopped", "u1", "u1_1700000000200"},
		{"does not match longer user ids", "u10", "u10_1700000000400"},
		{"suffix must be a timestamp", "u1_extra", "u1_extra_1700000000300"},
		{"no match", "u9", ""},
		{"short numeric suffix is another user", "a", ""},
		{"bare session of another user", "a_5", "a_5"},
		{"numeric session name needs the prefix", "bob", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindSession(sessions, tt.user)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected no session, got %s", got.Name)
				}
				return
			}
			if got == nil || got.Name != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, got)
			}
		})
	}
}

func TestManagerLifecycle(t *testing.T) {
	fake := newFakeGateway()
	fake.qrImage = true

	srv := httptest.NewServer(fake)
	defer srv.Close()
	client, err := gateway.New(srv.URL, gateway.StaticToken("token"))
	if err != nil {
		t.Fatal(err)
	}

	timing := fastTiming(1000)
	timing.PollInterval = 20 * time.Millisecond
	m := NewManager(client, timing, Options{})
	defer m.Close()

	if _, err := m.Status("u1"); err == nil {
		t.Fatal("expected FLOW_NOT_FOUND before start")
	}

	snap, err := m.Start("u1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if snap.State != StateCreating {
		t.Fatalf("expected creating, got %s", snap.State)
	}

	_, err = m.Start("u1")
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.ErrCodeFlowInProgress {
		t.Fatalf("expected FLOW_IN_PROGRESS, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.QR("u1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("QR never became available")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, err = m.Cancel("u1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if snap.State != StateError || snap.Error != ErrCancelled.Error() || snap.HasQR {
		t.Fatalf("unexpected snapshot after cancel: %+v", snap)
	}

	polls := fake.count("status")
	time.Sleep(60 * time.Millisecond)
	if fake.count("status") != polls {
		t.Fatal("polling continued after cancel")
	}

	if snap, err = m.Retry("u1"); err != nil || snap.State != StateCreating {
		t.Fatalf("Retry failed: %+v, %v", snap, err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected one flow, got %d", len(m.List()))
	}

	m.Close()
	if snap, _ := m.Status("u1"); snap.State != StateError {
		t.Fatalf("expected Close to stop the flow, got %s", snap.State)
	}
	if _, err := m.Start("u2"); err == nil {
		t.Fatal("expected Start to fail after Close")
	}
}
