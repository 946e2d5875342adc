// Package connect bootstraps a WhatsApp session on the gateway for a CRM user: it reuses
// or creates the session, surfaces a QR code and polls until the phone is linked.
package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nahidhasan98/wacrm/internal/config"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
	"github.com/sethvargo/go-retry"
)

// State of a bootstrap flow
type State string

const (
	StateIdle      State = "idle"
	StateCreating  State = "creating"
	StateQRReady   State = "qr_ready"
	StateConnected State = "connected"
	StateError     State = "error"
)

// Terminal reports whether the flow has stopped
func (s State) Terminal() bool {
	return s == StateConnected || s == StateError
}

var (
	// ErrPollTimeout is returned when the phone was not linked within the polling bound
	ErrPollTimeout = errors.New("QR code not scanned in time")
	// ErrCancelled is recorded when the flow is cancelled by its owner
	ErrCancelled = errors.New("connection cancelled")
	// ErrSuperseded is returned by a run that was replaced by a newer one
	ErrSuperseded = errors.New("connection attempt superseded")

	errNotConnected = errors.New("session not connected yet")
)

// Gateway is the subset of the gateway client the flow needs
type Gateway interface {
	ListSessions(ctx context.Context) ([]gateway.Session, error)
	GetSession(ctx context.Context, name string) (*gateway.Session, error)
	CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (bool, error)
	StartSession(ctx context.Context, name string) error
	FetchQR(ctx context.Context, name string) (*gateway.QRImage, error)
}

// Recorder persists flow transitions
type Recorder interface {
	Record(ctx context.Context, s Snapshot) error
}

// Timing holds every delay used by the flow
type Timing struct {
	InitDelay        time.Duration
	StartDelay       time.Duration
	PollInterval     time.Duration
	MaxPolls         int
	ConnectedDelay   time.Duration
	StatusCheckDelay time.Duration
}

// DefaultTiming polls every 3s for up to 100 attempts (about five minutes)
func DefaultTiming() Timing {
	return Timing{
		InitDelay:        2 * time.Second,
		StartDelay:       3 * time.Second,
		PollInterval:     3 * time.Second,
		MaxPolls:         100,
		ConnectedDelay:   2 * time.Second,
		StatusCheckDelay: 5 * time.Second,
	}
}

// TimingFromConfig converts the connect section of the configuration
func TimingFromConfig(c config.ConnectConfig) Timing {
	return Timing{
		InitDelay:        c.InitDelay,
		StartDelay:       c.StartDelay,
		PollInterval:     c.PollInterval,
		MaxPolls:         c.MaxPolls,
		ConnectedDelay:   c.ConnectedDelay,
		StatusCheckDelay: c.StatusCheckDelay,
	}
}

// Options carries the optional collaborators of a flow
type Options struct {
	Bus         *events.Bus
	Recorder    Recorder
	Webhook     *gateway.SessionConfig
	OnConnected func(Snapshot)
	Log         *logger.Logger
	Now         func() time.Time
}

// Snapshot is a point-in-time view of a flow
type Snapshot struct {
	User      string    `json:"user"`
	Session   string    `json:"session,omitempty"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	HasQR     bool      `json:"hasQr"`
	Polls     int       `json:"polls"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Flow is the bootstrap state machine for one user
type Flow struct {
	user   string
	gw     Gateway
	timing Timing
	opts   Options
	log    *logger.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	session string
	qr      *gateway.QRImage
	err     error
	polls   int
	updated time.Time
}

// NewFlow creates an idle flow for user
func NewFlow(user string, gw Gateway, timing Timing, opts Options) *Flow {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if timing.MaxPolls < 1 {
		timing.MaxPolls = 1
	}
	if timing.PollInterval <= 0 {
		timing.PollInterval = time.Second
	}

	return &Flow{
		user:    user,
		gw:      gw,
		timing:  timing,
		opts:    opts,
		log:     opts.Log.With("user", user),
		state:   StateIdle,
		updated: opts.Now(),
	}
}

// SessionName derives a session name from the user id and a timestamp
func SessionName(user string, at time.Time) string {
	return fmt.Sprintf("%s_%d", user, at.UnixMilli())
}

// Run executes the flow until it is connected, fails, or ctx is cancelled
func (f *Flow) Run(ctx context.Context) error {
	return f.execute(ctx, f.begin())
}

// Snapshot returns the current view of the flow
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// QR returns a copy of the held QR image, or nil
func (f *Flow) QR() *gateway.QRImage {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.qr == nil {
		return nil
	}
	img := *f.qr
	img.Data = append([]byte(nil), f.qr.Data...)
	return &img
}

// Err returns the error that moved the flow to the error state
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) snapshotLocked() Snapshot {
	s := Snapshot{
		User:      f.user,
		Session:   f.session,
		State:     f.state,
		HasQR:     f.qr != nil,
		Polls:     f.polls,
		UpdatedAt: f.updated,
	}
	if f.err != nil {
		s.Error = f.err.Error()
	}
	return s
}

// begin starts a new generation; results of older runs are discarded from here on
func (f *Flow) begin() uint64 {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	from := f.state
	f.state = StateCreating
	f.err = nil
	f.polls = 0
	f.releaseQRLocked()
	f.updated = f.opts.Now()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.emit(from, snap)
	return gen
}

func (f *Flow) execute(ctx context.Context, gen uint64) error {
	err := f.run(ctx, gen)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSuperseded) {
		f.log.Debug("Discarding superseded connection attempt")
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = ErrCancelled
	}

	f.fail(gen, err)
	return err
}

func (f *Flow) run(ctx context.Context, gen uint64) error {
	sessions, err := f.gw.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	existing := FindSession(sessions, f.user)
	switch {
	case existing != nil && existing.Status == gateway.StatusWorking:
		f.log.With("session", existing.Name).Info("Reusing working session")
		if err := f.setSession(gen, existing.Name); err != nil {
			return err
		}
		return f.connected(ctx, gen)

	case existing != nil && existing.Status == gateway.StatusScanQRCode:
		f.log.With("session", existing.Name).Info("Session awaiting scan, skipping creation")
		if err := f.setSession(gen, existing.Name); err != nil {
			return err
		}

	default:
		name := SessionName(f.user, f.opts.Now())
		if err := f.setSession(gen, name); err != nil {
			return err
		}
		if err := f.create(ctx, name); err != nil {
			return err
		}
	}

	name := f.Snapshot().Session
	interval := f.timing.PollInterval
	if !f.fetchQR(ctx, gen, name) {
		// The session may have linked without a scan; check status after a longer pause
		interval = f.timing.StatusCheckDelay
	}
	if err := sleep(ctx, interval); err != nil {
		return err
	}

	return f.poll(ctx, gen, name)
}

func (f *Flow) create(ctx context.Context, name string) error {
	log := f.log.With("session", name)

	created, err := f.gw.CreateSession(ctx, gateway.CreateSessionRequest{Name: name, Config: f.opts.Webhook})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created {
		log.Info("Session created")
	}

	if err := sleep(ctx, f.timing.InitDelay); err != nil {
		return err
	}

	if err := f.gw.StartSession(ctx, name); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("Start session failed, continuing: %v", err)
	}

	return sleep(ctx, f.timing.StartDelay)
}

// fetchQR stores a QR image and moves to qr_ready; false means no candidate had one
func (f *Flow) fetchQR(ctx context.Context, gen uint64, name string) bool {
	img, err := f.gw.FetchQR(ctx, name)
	if err != nil {
		f.log.With("session", name).Debugf("QR not available yet: %v", err)
		return false
	}

	f.mu.Lock()
	if f.gen != gen || f.state.Terminal() {
		f.mu.Unlock()
		return false
	}
	from := f.state
	f.qr = img
	f.state = StateQRReady
	f.updated = f.opts.Now()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.emit(from, snap)
	f.publish(events.ConnectionQR{UserID: f.user, Session: name, Source: img.Source})
	return true
}

func (f *Flow) poll(ctx context.Context, gen uint64, name string) error {
	backoff := retry.WithMaxRetries(uint64(f.timing.MaxPolls-1), retry.NewConstant(f.timing.PollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		polls, err := f.countPoll(gen)
		if err != nil {
			return err
		}

		session, err := f.gw.GetSession(ctx, name)
		if err != nil {
			f.log.With("session", name).Warnf("Status poll %d failed: %v", polls, err)
			return retry.RetryableError(err)
		}

		switch session.Status {
		case gateway.StatusWorking:
			return nil
		case gateway.StatusScanQRCode:
			if !f.hasQR() {
				f.fetchQR(ctx, gen, name)
			}
		}
		return retry.RetryableError(errNotConnected)
	})

	switch {
	case err == nil:
		return f.connected(ctx, gen)
	case errors.Is(err, ErrSuperseded), ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w after %d status checks", ErrPollTimeout, f.Snapshot().Polls)
	}
}

func (f *Flow) countPoll(gen uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		return 0, ErrSuperseded
	}
	f.polls++
	return f.polls, nil
}

func (f *Flow) hasQR() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qr != nil
}

func (f *Flow) setSession(gen uint64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		return ErrSuperseded
	}
	f.session = name
	return nil
}

func (f *Flow) connected(ctx context.Context, gen uint64) error {
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return ErrSuperseded
	}
	from := f.state
	f.state = StateConnected
	f.releaseQRLocked()
	f.updated = f.opts.Now()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.log.With("session", snap.Session).Info("WhatsApp session connected")
	f.emit(from, snap)

	if err := sleep(ctx, f.timing.ConnectedDelay); err != nil {
		// Already connected; the caller just misses the delayed notification
		return nil
	}

	f.publish(events.Connected{UserID: f.user, Session: snap.Session})
	if f.opts.OnConnected != nil {
		f.opts.OnConnected(snap)
	}
	return nil
}

func (f *Flow) fail(gen uint64, err error) {
	f.mu.Lock()
	if f.gen != gen || f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	from := f.state
	f.state = StateError
	f.err = err
	f.releaseQRLocked()
	f.updated = f.opts.Now()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if errors.Is(err, ErrCancelled) {
		f.log.Info("Connection attempt cancelled")
	} else {
		f.log.Error("Connection attempt failed", err)
	}
	f.emit(from, snap)
}

func (f *Flow) releaseQRLocked() {
	if f.qr == nil {
		return
	}
	clear(f.qr.Data)
	f.qr = nil
}

func (f *Flow) emit(from State, snap Snapshot) {
	f.publish(events.ConnectionState{
		UserID:  snap.User,
		Session: snap.Session,
		From:    string(from),
		To:      string(snap.State),
		Error:   snap.Error,
	})

	if f.opts.Recorder == nil || snap.Session == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.opts.Recorder.Record(ctx, snap); err != nil {
		f.log.Error("Failed to record connection state", err)
	}
}

func (f *Flow) publish(p events.Payload) {
	if f.opts.Bus != nil {
		f.opts.Bus.Publish(p)
	}
}

// FindSession picks the user's session among all gateway sessions. Sessions are named
// "<user>_<millis>"; a working one wins, then one awaiting a scan, then the newest.
func FindSession(sessions []gateway.Session, user string) *gateway.Session {
	prefix := user + "_"
	var best *gateway.Session

	for i := range sessions {
		s := &sessions[i]
		if s.Name != user && !(strings.HasPrefix(s.Name, prefix) && isTimestamp(s.Name[len(prefix):])) {
			continue
		}
		if best == nil || rank(s) > rank(best) || (rank(s) == rank(best) && s.Name > best.Name) {
			best = s
		}
	}
	return best
}

// millisDigits is the width of a Unix millisecond timestamp; shorter numeric suffixes
// belong to other users such as "a_5"
const millisDigits = 13

func isTimestamp(s string) bool {
	if len(s) < millisDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func rank(s *gateway.Session) int {
	switch s.Status {
	case gateway.StatusWorking:
		return 2
	case gateway.StatusScanQRCode:
		return 1
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
