// Package session owns the tutoring-session lifecycle. A Tracker is the
// explicit per-view session context: it is created once with the
// conversation view and passed by handle to whoever needs the current
// session, replacing any ambient global state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// State is the tracker position for the current session.
type State int

const (
	// StateNone means no session has been started in this view.
	StateNone State = iota
	// StateActive means a session is open.
	StateActive
	// StateEnded is terminal for the tracked session. A later Start
	// opens a fresh session row.
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Persistence is the session slice of the store contract.
type Persistence interface {
	CreateSession(ctx context.Context, ownerID, orgID, topic string) (string, error)
	UpdateSessionTopic(ctx context.Context, sessionID, topic string) error
	IncrementQueryCount(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string, performance types.SessionPerformance) error
}

// DefaultTimeout bounds each session persistence call.
const DefaultTimeout = 10 * time.Second

// Tracker runs the None → Active → Ended lifecycle. Session tracking is
// best-effort telemetry: topic and query-count failures are logged and
// swallowed, never blocking the chat path.
type Tracker struct {
	persist Persistence
	logger  *slog.Logger
	ownerID string
	orgID   string
	timeout time.Duration

	mu         sync.Mutex
	state      State
	sessionID  string
	topic      string
	queryCount int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// NewTracker creates a session tracker for one conversation view.
func NewTracker(persist Persistence, ownerID, orgID string, opts ...Option) *Tracker {
	t := &Tracker{
		persist: persist,
		logger:  slog.Default(),
		ownerID: ownerID,
		orgID:   orgID,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the tracker state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID returns the current session id, or "" if none is active.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// QueryCount returns the locally observed query count.
func (t *Tracker) QueryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queryCount
}

// Start opens a session, or returns the active session id unchanged if
// one is already tracked. The store enforces one open session per owner,
// so concurrent views converge on the same row.
func (t *Tracker) Start(ctx context.Context, topic string) (string, error) {
	t.mu.Lock()
	if t.state == StateActive {
		id := t.sessionID
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.persist.CreateSession(ctx, t.ownerID, t.orgID, topic)
	if err != nil {
		return "", core.NewPersistenceError("create session", err)
	}

	t.mu.Lock()
	t.state = StateActive
	t.sessionID = id
	t.topic = topic
	t.queryCount = 0
	t.mu.Unlock()
	return id, nil
}

// UpdateTopic updates the session topic. Permitted only while active;
// failures are logged and swallowed.
func (t *Tracker) UpdateTopic(ctx context.Context, topic string) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	id := t.sessionID
	t.topic = topic
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.persist.UpdateSessionTopic(ctx, id, topic); err != nil {
		t.logger.Warn("update session topic", "session_id", id, "error", err)
	}
}

// IncrementQueryCount bumps the session query counter. Permitted only
// while active; failures are logged and swallowed.
func (t *Tracker) IncrementQueryCount(ctx context.Context) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	id := t.sessionID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.persist.IncrementQueryCount(ctx, id); err != nil {
		t.logger.Warn("increment query count", "session_id", id, "error", err)
		return
	}

	t.mu.Lock()
	t.queryCount++
	t.mu.Unlock()
}

// End terminates the session. Calling it again is a no-op. Failures are
// logged and swallowed.
func (t *Tracker) End(ctx context.Context, performance types.SessionPerformance) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	id := t.sessionID
	t.state = StateEnded
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.persist.EndSession(ctx, id, performance); err != nil {
		t.logger.Warn("end session", "session_id", id, "error", err)
	}
}
