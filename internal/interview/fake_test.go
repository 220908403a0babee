package interview

import (
	"context"
	"sync"

	"github.com/wolfman30/mockinterview/internal/tavusclient"
)

// fakeAPI counts vendor calls. When a gate is set the matching call blocks
// until the gate is closed, after signalling on the started channel.
type fakeAPI struct {
	mu       sync.Mutex
	creates  int
	ends     int
	endedIDs []string
	lastReq  tavusclient.CreateRequest

	conv      *tavusclient.Conversation
	createErr error
	endErr    error

	createGate    chan struct{}
	createStarted chan struct{}
	endGate       chan struct{}
	endStarted    chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		conv: &tavusclient.Conversation{
			ConversationID:   "c1",
			ConversationURL:  "https://tavus.daily.co/c1",
			ConversationName: "AI Interview",
			Status:           "active",
			PersonaID:        "pe13ed370726",
		},
		createStarted: make(chan struct{}, 16),
		endStarted:    make(chan struct{}, 16),
	}
}

func (f *fakeAPI) Create(ctx context.Context, req tavusclient.CreateRequest) (*tavusclient.Conversation, error) {
	f.mu.Lock()
	f.creates++
	f.lastReq = req
	gate := f.createGate
	conv, err := f.conv, f.createErr
	f.mu.Unlock()

	f.createStarted <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := *conv
	return &out, nil
}

func (f *fakeAPI) End(ctx context.Context, id string) error {
	f.mu.Lock()
	f.ends++
	f.endedIDs = append(f.endedIDs, id)
	gate := f.endGate
	err := f.endErr
	f.mu.Unlock()

	f.endStarted <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeAPI) counts() (creates, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.ends
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recordingTracker struct {
	mu       sync.Mutex
	tracked  []Record
	released []Record
}

func (t *recordingTracker) Track(_ context.Context, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = append(t.tracked, rec)
	return nil
}

func (t *recordingTracker) Release(_ context.Context, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = append(t.released, rec)
	return nil
}

func (t *recordingTracker) snapshot() (tracked, released []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.tracked...), append([]Record(nil), t.released...)
}

type recordingMetrics struct {
	mu          sync.Mutex
	calls       []string
	transitions []string
}

func (m *recordingMetrics) ObserveCall(op, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+":"+outcome)
}

func (m *recordingMetrics) ObserveTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (f *fakeAPI) lastRequest() tavusclient.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}
