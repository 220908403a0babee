// Package proxy exposes the interview lifecycle as an asynchronous
// request/response protocol. One Proxy serves one client connection and owns
// that connection's API key and conversation.
package proxy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

const (
	defaultTeardownTimeout = 10 * time.Second
	releaseTimeout         = 5 * time.Second
)

// Emitter delivers a response to the UI. It may be called from several
// goroutines.
type Emitter func(Response)

// APIFactory builds the vendor client used with a given API key.
type APIFactory func(apiKey string) interview.ConversationAPI

// KeyedClient returns an APIFactory that copies base with the key applied.
func KeyedClient(base *tavusclient.Client) APIFactory {
	return func(apiKey string) interview.ConversationAPI {
		return base.WithAPIKey(apiKey)
	}
}

// Proxy adapts a sequence of Requests onto interview.Controllers.
type Proxy struct {
	newAPI   APIFactory
	defaults interview.Options
	emit     Emitter
	logger   *logging.Logger
	ctx      context.Context

	mu          sync.Mutex
	apiKey      string
	trackKey    string
	ctrl        *interview.Controller
	ctrlTracked bool
	lastID      string
	unended     map[string]unended
	closed      bool

	wg   sync.WaitGroup
	done chan struct{}
}

// unended is a conversation whose end failed. It is retried on the next end
// request and on Close, with the key it was created under.
type unended struct {
	rec     interview.Record
	apiKey  string
	tracked bool
}

// New creates a proxy. defaults seeds every controller the proxy opens; its
// SessionID is replaced per controller.
func New(newAPI APIFactory, defaults interview.Options, emit Emitter) *Proxy {
	if defaults.Logger == nil {
		defaults.Logger = logging.Default()
	}
	if defaults.TeardownTimeout <= 0 {
		defaults.TeardownTimeout = defaultTeardownTimeout
	}
	if emit == nil {
		emit = func(Response) {}
	}
	return &Proxy{
		newAPI:   newAPI,
		defaults: defaults,
		emit:     emit,
		logger:   defaults.Logger,
		ctx:      context.Background(),
		unended:  make(map[string]unended),
		done:     make(chan struct{}),
	}
}

// SetAPIKey installs the key without acknowledging it. Servers use it to
// pre-seed their own key.
func (p *Proxy) SetAPIKey(key string) {
	p.mu.Lock()
	p.apiKey = strings.TrimSpace(key)
	p.mu.Unlock()
}

// TrackOnly limits the defaults' Tracker to conversations created with key.
// The orphan sweeper ends conversations with the server key, so conversations
// opened under a caller's own key must stay out of the ledger.
func (p *Proxy) TrackOnly(key string) {
	p.mu.Lock()
	p.trackKey = strings.TrimSpace(key)
	p.mu.Unlock()
}

// Handle dispatches one request. It never blocks on the network: create and
// end are answered asynchronously.
func (p *Proxy) Handle(req Request) {
	switch req.Type {
	case TypeSetAPIKey:
		p.SetAPIKey(req.APIKey)
		p.emit(Response{Type: TypeAPIKeySet})
	case TypeCreateConversation:
		p.handleCreate(req)
	case TypeEndConversation:
		p.handleEnd(req)
	case TypePing:
		p.emit(Response{Type: TypePong})
	default:
		p.emit(Response{Type: TypeError, Error: "Unknown message type: " + req.Type})
	}
}

func (p *Proxy) handleCreate(req Request) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.emit(Response{Type: TypeCreateFailed, Error: msgProxyClosed})
		return
	}
	if p.apiKey == "" {
		p.mu.Unlock()
		p.emit(Response{Type: TypeCreateFailed, Error: msgAPIKeyNotSet})
		return
	}
	ctrl := p.ctrl
	if ctrl != nil {
		switch ctrl.Snapshot().State {
		case interview.StateActive, interview.StateEnding:
			p.mu.Unlock()
			p.emit(Response{Type: TypeCreateFailed, Error: msgAlreadyActive})
			return
		case interview.StateEnded, interview.StateFailed:
			ctrl.Close()
			ctrl = nil
		}
	}
	if ctrl == nil {
		ctrl = p.openLocked(req.ConversationName)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(Response{Type: TypeCreateStarted})
	go func() {
		defer p.wg.Done()
		snap, err := ctrl.Start(p.ctx)
		if err != nil {
			p.emit(Response{Type: TypeCreateFailed, Error: err.Error()})
			return
		}
		if snap.State == interview.StateFailed || snap.Conversation == nil {
			p.emit(Response{Type: TypeCreateFailed, Error: snap.Error})
			return
		}
		p.mu.Lock()
		if p.ctrl == ctrl {
			p.lastID = snap.Conversation.ConversationID
		}
		p.mu.Unlock()
		p.emit(Response{Type: TypeCreateSucceeded, Data: snap.Conversation})
	}()
}

func (p *Proxy) openLocked(name string) *interview.Controller {
	opts := p.defaults
	opts.SessionID = uuid.NewString()
	if p.trackKey != "" && p.apiKey != p.trackKey {
		opts.Tracker = nil
	}
	if name = strings.TrimSpace(name); name != "" {
		opts.Request.ConversationName = name
	}
	ctrl := interview.NewController(p.newAPI(p.apiKey), opts)
	p.ctrl = ctrl
	p.ctrlTracked = opts.Tracker != nil
	p.lastID = ""
	return ctrl
}

func (p *Proxy) handleEnd(req Request) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.emit(Response{Type: TypeEndFailed, Error: msgProxyClosed})
		return
	}
	if p.apiKey == "" {
		p.mu.Unlock()
		p.emit(Response{Type: TypeEndFailed, Error: msgAPIKeyNotSet})
		return
	}
	id := strings.TrimSpace(req.ConversationID)
	if id == "" {
		id = p.lastID
	}
	retries := p.unendedLocked(id)
	if id == "" && len(retries) > 0 {
		id, retries = retries[0].rec.ConversationID, retries[1:]
	}
	if id == "" {
		p.mu.Unlock()
		p.emit(Response{Type: TypeEndSucceeded, Data: EndResult{Message: msgNothingToEnd}})
		return
	}
	ctrl := p.ctrl
	owned := ctrl != nil && heldConversation(ctrl.Snapshot()) == id
	failed := unended{
		rec:     interview.Record{ConversationID: id},
		apiKey:  p.apiKey,
		tracked: owned && p.ctrlTracked,
	}
	if prev, ok := p.unended[id]; ok {
		failed = prev
	} else if owned {
		failed.rec.SessionID = ctrl.SessionID()
		failed.rec.Candidate = ctrl.Candidate()
	}
	api := p.newAPI(failed.apiKey)
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(Response{Type: TypeEndStarted})
	go func() {
		defer p.wg.Done()
		var err error
		if owned {
			err = endController(p.ctx, ctrl)
		} else {
			err = api.End(p.ctx, id)
		}
		if err != nil {
			p.logger.Warn("proxy end failed", "conversation_id", id, "error", err)
			p.mu.Lock()
			p.unended[id] = failed
			p.mu.Unlock()
			p.emit(Response{Type: TypeEndFailed, Error: strings.TrimPrefix(err.Error(), "tavusclient: ")})
		} else {
			p.resolve(id)
			p.emit(Response{Type: TypeEndSucceeded, Data: EndResult{Message: msgEnded, ConversationID: id}})
		}
		p.retry(p.ctx, retries)
	}()
}

// unendedLocked lists failed-end conversations other than skip, oldest id
// first.
func (p *Proxy) unendedLocked(skip string) []unended {
	out := make([]unended, 0, len(p.unended))
	for id, u := range p.unended {
		if id != skip {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rec.ConversationID < out[j].rec.ConversationID })
	return out
}

// retry ends conversations whose earlier end failed. A conversation the vendor
// no longer knows counts as ended.
func (p *Proxy) retry(ctx context.Context, pending []unended) {
	for _, u := range pending {
		id := u.rec.ConversationID
		err := p.newAPI(u.apiKey).End(ctx, id)
		if err != nil && !tavusclient.IsGone(err) {
			p.logger.Warn("proxy: retried end failed", "conversation_id", id, "error", err)
			continue
		}
		p.logger.Info("proxy: retried end succeeded", "conversation_id", id)
		p.resolve(id)
	}
}

// resolve forgets an ended conversation and, when it was recorded by the
// tracker under a failed end, releases it as ended.
func (p *Proxy) resolve(id string) {
	p.mu.Lock()
	u, wasUnended := p.unended[id]
	delete(p.unended, id)
	if p.lastID == id {
		p.lastID = ""
	}
	p.mu.Unlock()

	tracker := p.defaults.Tracker
	if !wasUnended || !u.tracked || tracker == nil {
		return
	}
	rec := u.rec
	rec.EndedAt = time.Now().UTC()
	rec.Outcome = interview.OutcomeEnded
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := tracker.Release(ctx, rec); err != nil {
		p.logger.Warn("proxy: release failed", "conversation_id", id, "error", err)
	}
}

// endController ends the controller's conversation and reports the vendor
// failure the controller itself only logs.
func endController(ctx context.Context, ctrl *interview.Controller) error {
	snap, err := ctrl.End(ctx)
	if err != nil {
		return err
	}
	if snap.EndError != "" {
		return errors.New(snap.EndError)
	}
	return nil
}

// heldConversation returns the id of a conversation the controller still holds.
func heldConversation(snap interview.Snapshot) string {
	if !snap.State.HoldsConversation() || snap.Conversation == nil {
		return ""
	}
	return snap.Conversation.ConversationID
}

// Close tears the proxy down without waiting on the network. A live
// conversation is ended in the background; so is every created conversation
// whose earlier end failed. Done reports when that work has settled.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ctrl := p.ctrl
	held := ""
	if ctrl != nil {
		held = heldConversation(ctrl.Snapshot())
	}
	if pending := p.unendedLocked(held); len(pending) > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.defaults.TeardownTimeout)
			defer cancel()
			p.retry(ctx, pending)
		}()
	}
	p.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
	}
	go func() {
		p.wg.Wait()
		if ctrl != nil {
			<-ctrl.Done()
		}
		close(p.done)
	}()
}

// Done is closed after Close once no vendor call started by the proxy is
// still running.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}
