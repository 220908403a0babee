package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

var (
	// ErrAlreadyActive rejects Start/Retry while a conversation is running.
	ErrAlreadyActive = errors.New("interview: conversation already active")
	// ErrRetryRequired rejects Start after a failed create; use Retry.
	ErrRetryRequired = errors.New("interview: previous attempt failed, retry required")
	// ErrSessionClosed rejects work on an ended or torn down session.
	ErrSessionClosed = errors.New("interview: session closed")
)

const (
	defaultTeardownTimeout = 10 * time.Second
	trackTimeout           = 5 * time.Second
)

// ConversationAPI is the vendor surface the controller drives.
type ConversationAPI interface {
	Create(ctx context.Context, req tavusclient.CreateRequest) (*tavusclient.Conversation, error)
	End(ctx context.Context, conversationID string) error
}

// Metrics receives lifecycle telemetry. *metrics.InterviewMetrics satisfies it.
type Metrics interface {
	ObserveCall(op, outcome string, seconds float64)
	ObserveTransition(from, to string)
}

// Snapshot is the presentation view of a session.
type Snapshot struct {
	SessionID    string                    `json:"session_id"`
	Candidate    string                    `json:"candidate,omitempty"`
	State        State                     `json:"state"`
	Conversation *tavusclient.Conversation `json:"conversation,omitempty"`
	Error        string                    `json:"error,omitempty"`
	ErrorKind    tavusclient.Kind          `json:"error_kind,omitempty"`
	EndError     string                    `json:"end_error,omitempty"`
	Attempts     int                       `json:"attempts"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
}

// Options configures a Controller.
type Options struct {
	SessionID       string
	Candidate       string
	Request         tavusclient.CreateRequest
	TeardownTimeout time.Duration
	Tracker         Tracker
	Metrics         Metrics
	Logger          *logging.Logger

	// OnEnded is called once the held conversation's end has settled,
	// whether or not the vendor call succeeded.
	OnEnded func(sessionID string)
}

// Controller owns the single conversation of one UI session.
//
// Network calls never run under mu. An in-flight create or end is represented
// by a channel that is closed when it settles; duplicate callers wait on it
// instead of issuing their own request.
type Controller struct {
	api             ConversationAPI
	sessionID       string
	candidate       string
	request         tavusclient.CreateRequest
	teardownTimeout time.Duration
	tracker         Tracker
	metrics         Metrics
	logger          *logging.Logger
	onEnded         func(sessionID string)

	mu        sync.Mutex
	state     State
	conv      *tavusclient.Conversation
	errMsg    string
	errKind   tavusclient.Kind
	endErr    string
	attempts  int
	startedAt time.Time
	endedAt   time.Time
	creating  chan struct{}
	ending    chan struct{}
	closed    bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewController creates a controller in the uninitialized state.
func NewController(api ConversationAPI, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := opts.TeardownTimeout
	if timeout <= 0 {
		timeout = defaultTeardownTimeout
	}
	return &Controller{
		api:             api,
		sessionID:       opts.SessionID,
		candidate:       opts.Candidate,
		request:         opts.Request,
		teardownTimeout: timeout,
		tracker:         opts.Tracker,
		metrics:         opts.Metrics,
		logger:          logger.WithSession(opts.SessionID),
		onEnded:         opts.OnEnded,
		state:           StateUninitialized,
		done:            make(chan struct{}),
	}
}

// SessionID returns the UI session this controller belongs to.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Candidate returns the candidate the session was opened for.
func (c *Controller) Candidate() string {
	return c.candidate
}

// Start creates the session's conversation. Calls made while a create is in
// flight join it rather than issuing a second request. A failed create is
// reported through the snapshot, not the error.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSessionClosed
	}
	switch c.state {
	case StateUninitialized:
		done := c.beginCreateLocked()
		c.mu.Unlock()
		c.runCreate(ctx, done)
		return c.Snapshot(), nil
	case StateCreating:
		wait := c.creating
		c.mu.Unlock()
		return c.await(ctx, wait)
	case StateFailed:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrRetryRequired
	case StateEnded:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSessionClosed
	default:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrAlreadyActive
	}
}

// Retry clears a failed attempt and creates again. Concurrent retries share a
// single create.
func (c *Controller) Retry(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSessionClosed
	}
	switch c.state {
	case StateFailed, StateUninitialized:
		c.conv = nil
		c.errMsg = ""
		c.errKind = tavusclient.KindNone
		done := c.beginCreateLocked()
		c.mu.Unlock()
		c.runCreate(ctx, done)
		return c.Snapshot(), nil
	case StateCreating:
		wait := c.creating
		c.mu.Unlock()
		return c.await(ctx, wait)
	case StateEnded:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSessionClosed
	default:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrAlreadyActive
	}
}

// End ends the held conversation and always leaves the session ended when one
// was held; a failing vendor call is logged, not returned. With nothing to end
// it is a no-op. The only error is ctx expiring while waiting on an in-flight
// create or end.
func (c *Controller) End(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		switch c.state {
		case StateCreating:
			wait := c.creating
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return c.Snapshot(), ctx.Err()
			}
		case StateActive:
			done, id := c.beginEndLocked()
			c.mu.Unlock()
			c.runEnd(ctx, id, done)
			return c.Snapshot(), nil
		case StateEnding:
			wait := c.ending
			c.mu.Unlock()
			return c.await(ctx, wait)
		default:
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
	}
}

// Close releases the session when its owning scope goes away. It never blocks
// on the network: an active conversation is ended on a detached goroutine with
// its own timeout, and a create still in flight is ended once it settles.
// Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	switch c.state {
	case StateActive:
		done, id := c.beginEndLocked()
		c.mu.Unlock()
		c.logger.Info("interview teardown: ending conversation", "conversation_id", id)
		go c.detachedEnd(id, done)
	case StateCreating, StateEnding:
		// the in-flight operation finishes teardown when it settles
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.markDone()
	}
}

// Done is closed once a closed session has nothing left in flight.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the current presentation view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) await(ctx context.Context, wait <-chan struct{}) (Snapshot, error) {
	select {
	case <-wait:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Controller) beginCreateLocked() chan struct{} {
	c.transitionLocked(StateCreating)
	c.attempts++
	done := make(chan struct{})
	c.creating = done
	return done
}

func (c *Controller) beginEndLocked() (chan struct{}, string) {
	c.transitionLocked(StateEnding)
	done := make(chan struct{})
	c.ending = done
	return done, c.conv.ConversationID
}

func (c *Controller) runCreate(ctx context.Context, done chan struct{}) {
	started := time.Now()
	conv, err := c.api.Create(ctx, c.request)
	c.observeCall("create", err, started)

	if err != nil {
		c.logger.Error("interview create failed",
			"error", err,
			"kind", tavusclient.KindOf(err),
			"status", tavusclient.StatusCode(err),
		)
		c.mu.Lock()
		c.transitionLocked(StateFailed)
		c.errMsg = errorMessage(err)
		c.errKind = tavusclient.KindOf(err)
		c.creating = nil
		close(done)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.markDone()
		}
		return
	}

	now := time.Now().UTC()
	c.track(ctx, Record{
		SessionID:        c.sessionID,
		Candidate:        c.candidate,
		ConversationID:   conv.ConversationID,
		ConversationURL:  conv.ConversationURL,
		ConversationName: conv.ConversationName,
		PersonaID:        conv.PersonaID,
		StartedAt:        now,
	})

	c.mu.Lock()
	c.conv = conv
	c.startedAt = now
	c.transitionLocked(StateActive)
	c.creating = nil
	teardown := c.closed
	var endDone chan struct{}
	var id string
	if teardown {
		endDone, id = c.beginEndLocked()
	}
	close(done)
	c.mu.Unlock()

	c.logger.Info("interview conversation active",
		"conversation_id", conv.ConversationID,
		"conversation_url", conv.ConversationURL,
	)
	if teardown {
		c.logger.Info("interview closed during create: ending conversation", "conversation_id", id)
		go c.detachedEnd(id, endDone)
	}
}

func (c *Controller) detachedEnd(id string, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), c.teardownTimeout)
	defer cancel()
	c.runEnd(ctx, id, done)
}

func (c *Controller) runEnd(ctx context.Context, id string, done chan struct{}) {
	started := time.Now()
	err := c.api.End(ctx, id)
	c.observeCall("end", err, started)

	outcome := OutcomeEnded
	if err != nil {
		outcome = OutcomeEndFailed
		c.logger.Warn("interview end failed; treating session as ended",
			"conversation_id", id,
			"error", err,
			"kind", tavusclient.KindOf(err),
			"status", tavusclient.StatusCode(err),
		)
	}

	now := time.Now().UTC()
	c.release(ctx, Record{
		SessionID:      c.sessionID,
		Candidate:      c.candidate,
		ConversationID: id,
		EndedAt:        now,
		Outcome:        outcome,
	})

	c.mu.Lock()
	c.transitionLocked(StateEnded)
	c.endedAt = now
	if err != nil {
		c.endErr = errorMessage(err)
	}
	c.ending = nil
	close(done)
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.markDone()
	}
	if c.onEnded != nil {
		c.onEnded(c.sessionID)
	}
}

func (c *Controller) track(ctx context.Context, rec Record) {
	if c.tracker == nil || rec.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
	defer cancel()
	if err := c.tracker.Track(ctx, rec); err != nil {
		c.logger.Warn("interview tracker: track failed", "conversation_id", rec.ConversationID, "error", err)
	}
}

func (c *Controller) release(ctx context.Context, rec Record) {
	if c.tracker == nil || rec.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
	defer cancel()
	if err := c.tracker.Release(ctx, rec); err != nil {
		c.logger.Warn("interview tracker: release failed", "conversation_id", rec.ConversationID, "error", err)
	}
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	if !CanTransition(from, to) {
		c.logger.Error("interview: invalid transition", "from", from, "to", to)
		return
	}
	c.state = to
	c.logger.Debug("interview state", "from", from, "to", to)
	if c.metrics != nil {
		c.metrics.ObserveTransition(string(from), string(to))
	}
}

func (c *Controller) observeCall(op string, err error, started time.Time) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(tavusclient.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.metrics.ObserveCall(op, outcome, time.Since(started).Seconds())
}

func (c *Controller) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: c.sessionID,
		Candidate: c.candidate,
		State:     c.state,
		Error:     c.errMsg,
		ErrorKind: c.errKind,
		EndError:  c.endErr,
		Attempts:  c.attempts,
	}
	if c.conv != nil {
		conv := *c.conv
		snap.Conversation = &conv
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		snap.StartedAt = &t
	}
	if !c.endedAt.IsZero() {
		t := c.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// errorMessage is the text shown on the retry screen.
func errorMessage(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, "tavusclient: ")
}
