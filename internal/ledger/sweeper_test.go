package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

type fakeEnder struct {
	mu    sync.Mutex
	ended []string
	fail  map[string]bool
}

func (f *fakeEnder) End(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	if f.fail[id] {
		return errors.New("vendor down")
	}
	return nil
}

type countingMetrics struct{ ok, failed int }

func (m *countingMetrics) ObserveOrphanEnded(ok bool) {
	if ok {
		m.ok++
		return
	}
	m.failed++
}

func TestSweepOnceEndsOrphansOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	self := NewMemoryLedger("self", 30*time.Second)
	self.now = func() time.Time { return now }

	require.NoError(t, self.Heartbeat(ctx))
	require.NoError(t, self.Track(ctx, interview.Record{ConversationID: "mine"}))
	require.NoError(t, self.Restore(ctx, Entry{ConversationID: "theirs", Owner: "crashed"}))

	ender := &fakeEnder{}
	metrics := &countingMetrics{}
	sweeper := NewSweeper(self, ender, logging.New("error")).WithMetrics(metrics)

	assert.Equal(t, 1, sweeper.SweepOnce(ctx))
	assert.Equal(t, []string{"theirs"}, ender.ended)
	assert.Equal(t, 1, metrics.ok)
	assert.Equal(t, 1, self.Len())

	assert.Zero(t, sweeper.SweepOnce(ctx), "claimed orphans are not ended twice")
}

func TestSweepOnceRestoresOnFailure(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("self", time.Minute)
	require.NoError(t, l.Heartbeat(ctx))
	require.NoError(t, l.Restore(ctx, Entry{ConversationID: "stuck", Owner: "crashed"}))

	ender := &fakeEnder{fail: map[string]bool{"stuck": true}}
	metrics := &countingMetrics{}
	sweeper := NewSweeper(l, ender, logging.New("error")).WithMetrics(metrics)

	assert.Zero(t, sweeper.SweepOnce(ctx))
	assert.Equal(t, 1, l.Len(), "failed end must leave the entry for the next sweep")
	assert.Equal(t, 1, metrics.failed)

	ender.fail = nil
	assert.Equal(t, 1, sweeper.SweepOnce(ctx))
	assert.Zero(t, l.Len())
}

func TestMemoryLedgerHeartbeatExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLedger("self", 30*time.Second)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Heartbeat(ctx))
	require.NoError(t, l.Track(ctx, interview.Record{ConversationID: "c1"}))

	orphans, err := l.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	now = now.Add(31 * time.Second)
	orphans, err = l.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "c1", orphans[0].ConversationID)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewMemoryLedger("self", time.Minute)
	sweeper := NewSweeper(l, &fakeEnder{}, logging.New("error")).
		WithInterval(time.Hour).
		WithHeartbeatTTL(time.Hour)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
