package interview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("interview: session not found")

// Registry holds one Controller per UI session for the direct-call surface.
// A session leaves the registry when its conversation has ended, when it is
// closed, or when the reaper finds it idle.
type Registry struct {
	api      ConversationAPI
	defaults Options
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	ctrl     *Controller
	lastSeen time.Time
}

// NewRegistry creates a registry whose controllers share api and defaults.
// SessionID, Candidate and OnEnded in defaults are ignored.
func NewRegistry(api ConversationAPI, defaults Options) *Registry {
	logger := defaults.Logger
	if logger == nil {
		logger = logging.Default()
	}
	defaults.Logger = logger
	return &Registry{
		api:      api,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Open registers a fresh session for candidate.
func (r *Registry) Open(candidate string, settings Settings) *Controller {
	opts := r.defaults
	opts.SessionID = uuid.NewString()
	opts.Candidate = candidate
	opts.Request = settings.Apply(opts.Request)
	opts.OnEnded = r.forget
	ctrl := NewController(r.api, opts)

	r.mu.Lock()
	r.sessions[opts.SessionID] = &session{ctrl: ctrl, lastSeen: r.now()}
	r.mu.Unlock()
	return ctrl
}

// Get looks up a session and marks it active.
func (r *Registry) Get(sessionID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = r.now()
	return s.ctrl, nil
}

// Close tears a session down and forgets it. Teardown is not awaited.
func (r *Registry) Close(sessionID string) error {
	ctrl := r.remove(sessionID)
	if ctrl == nil {
		return ErrSessionNotFound
	}
	ctrl.Close()
	return nil
}

// forget drops a session whose conversation has ended. Closing it settles
// Done, since nothing is left in flight.
func (r *Registry) forget(sessionID string) {
	if ctrl := r.remove(sessionID); ctrl != nil {
		ctrl.Close()
	}
}

func (r *Registry) remove(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	return s.ctrl
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap closes every session without a request for longer than idle and
// returns how many it closed. This is the teardown for UIs that went away
// without saying so.
func (r *Registry) Reap(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []*Controller
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s.ctrl)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, ctrl := range stale {
		r.logger.Info("interview session idle: closing", "session_id", ctrl.SessionID(), "state", ctrl.Snapshot().State)
		ctrl.Close()
	}
	return len(stale)
}

// Run reaps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 || idle <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap(idle)
		}
	}
}

// Shutdown closes every session and waits, until ctx expires, for their
// teardown ends to settle.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.sessions))
	for id, s := range r.sessions {
		ctrls = append(ctrls, s.ctrl)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Close()
	}
	for _, ctrl := range ctrls {
		select {
		case <-ctrl.Done():
		case <-ctx.Done():
			r.logger.Warn("interview shutdown: teardown still pending", "session_id", ctrl.SessionID())
			return ctx.Err()
		}
	}
	r.logger.Info("interview sessions closed", "count", len(ctrls))
	return nil
}
