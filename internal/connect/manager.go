package connect

import (
	"context"
	"errors"
	"sort"
	"sync"

	apperrors "github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

// Manager owns one bootstrap flow per user and the goroutine running it
type Manager struct {
	gw     Gateway
	timing Timing
	opts   Options
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	flow   *Flow
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// NewManager creates a manager; every flow shares timing and opts
func NewManager(gw Gateway, timing Timing, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		gw:     gw,
		timing: timing,
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Start begins a bootstrap for user. It fails with FLOW_IN_PROGRESS while another
// attempt for the same user is still running.
func (m *Manager) Start(user string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Snapshot{}, apperrors.New(apperrors.ErrCodeServiceUnavailable, "Connection manager is shutting down")
	}
	if t, ok := m.tasks[user]; ok && t.running() {
		return t.flow.Snapshot(), apperrors.FlowInProgress(user)
	}

	flow := NewFlow(user, m.gw, m.timing, m.opts)
	return m.launchLocked(user, flow), nil
}

// Retry restarts a failed flow from the creating step
func (m *Manager) Retry(user string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Snapshot{}, apperrors.New(apperrors.ErrCodeServiceUnavailable, "Connection manager is shutting down")
	}
	t, ok := m.tasks[user]
	if !ok {
		return Snapshot{}, apperrors.FlowNotFound(user)
	}
	if t.running() {
		return t.flow.Snapshot(), apperrors.FlowInProgress(user)
	}
	if snap := t.flow.Snapshot(); snap.State != StateError {
		return snap, apperrors.InvalidRequest("Only a failed connection can be retried")
	}

	return m.launchLocked(user, t.flow), nil
}

func (m *Manager) launchLocked(user string, flow *Flow) Snapshot {
	ctx, cancel := context.WithCancel(m.ctx)
	t := &task{flow: flow, cancel: cancel, done: make(chan struct{})}
	m.tasks[user] = t

	gen := flow.begin()
	snap := flow.Snapshot()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(t.done)
		defer cancel()

		if err := flow.execute(ctx, gen); err != nil && !errors.Is(err, ErrCancelled) {
			m.log.With("user", user).Debugf("Connection flow finished with error: %v", err)
		}
	}()

	return snap
}

// Cancel stops the user's flow and waits for it to settle
func (m *Manager) Cancel(user string) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.tasks[user]
	m.mu.Unlock()

	if !ok {
		return Snapshot{}, apperrors.FlowNotFound(user)
	}

	t.cancel()
	<-t.done
	return t.flow.Snapshot(), nil
}

// Status returns the snapshot of the user's flow
func (m *Manager) Status(user string) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.tasks[user]
	m.mu.Unlock()

	if !ok {
		return Snapshot{}, apperrors.FlowNotFound(user)
	}
	return t.flow.Snapshot(), nil
}

// QR returns the QR image currently held for user
func (m *Manager) QR(user string) (*gateway.QRImage, error) {
	m.mu.Lock()
	t, ok := m.tasks[user]
	m.mu.Unlock()

	if !ok {
		return nil, apperrors.FlowNotFound(user)
	}
	img := t.flow.QR()
	if img == nil {
		return nil, apperrors.QRUnavailable()
	}
	return img, nil
}

// List returns a snapshot of every known flow ordered by user
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.flow.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// Close cancels every flow and waits for their goroutines to exit
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
