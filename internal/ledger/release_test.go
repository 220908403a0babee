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
	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// brokenEndAPI creates conversations but cannot end them.
type brokenEndAPI struct{}

func (brokenEndAPI) Create(context.Context, tavusclient.CreateRequest) (*tavusclient.Conversation, error) {
	return &tavusclient.Conversation{ConversationID: "c1", ConversationURL: "https://tavus.daily.co/c1"}, nil
}

func (brokenEndAPI) End(context.Context, string) error {
	return errors.New("boom")
}

type releaseLog struct {
	mu   sync.Mutex
	recs []interview.Record
}

func (r *releaseLog) Track(context.Context, interview.Record) error { return nil }

func (r *releaseLog) Release(_ context.Context, rec interview.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestFailedEndLeavesConversationForSweep(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("self", time.Minute)
	require.NoError(t, l.Heartbeat(ctx))

	ctrl := interview.NewController(brokenEndAPI{}, interview.Options{
		SessionID: "s1",
		Candidate: "alice",
		Tracker:   l,
		Logger:    logging.New("error"),
	})
	_, err := ctrl.Start(ctx)
	require.NoError(t, err)
	snap, err := ctrl.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, interview.StateEnded, snap.State)
	assert.NotEmpty(t, snap.EndError)

	require.Equal(t, 1, l.Len())
	orphans, err := l.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1, "a live owner must not shield a conversation it failed to end")
	assert.Equal(t, "c1", orphans[0].ConversationID)
	assert.Equal(t, "s1", orphans[0].SessionID)
	assert.Empty(t, orphans[0].Owner)

	history := &releaseLog{}
	ender := &fakeEnder{}
	sweeper := NewSweeper(l, ender, logging.New("error")).WithTracker(history)
	assert.Equal(t, 1, sweeper.SweepOnce(ctx))
	assert.Equal(t, []string{"c1"}, ender.ended)
	assert.Zero(t, l.Len())

	require.Len(t, history.recs, 1)
	assert.Equal(t, "c1", history.recs[0].ConversationID)
	assert.Equal(t, "alice", history.recs[0].Candidate)
	assert.Equal(t, interview.OutcomeOrphanEnded, history.recs[0].Outcome)
	assert.False(t, history.recs[0].EndedAt.IsZero())
}

func TestRedisLedgerFailedEndDisownsEntry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLedger(rdb, "inst-live", 30*time.Second)
	require.NoError(t, l.Heartbeat(ctx))
	require.NoError(t, l.Track(ctx, interview.Record{SessionID: "s1", ConversationID: "c1", Candidate: "alice"}))

	require.NoError(t, l.Release(ctx, interview.Record{SessionID: "s1", ConversationID: "c1", Outcome: interview.OutcomeEndFailed}))
	assert.NotEmpty(t, mr.HGet(activeKey, "c1"))

	orphans, err := l.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "c1", orphans[0].ConversationID)
	assert.Equal(t, "alice", orphans[0].Candidate)
	assert.Empty(t, orphans[0].Owner)

	require.NoError(t, l.Release(ctx, interview.Record{ConversationID: "c1", Outcome: interview.OutcomeEnded}))
	assert.Empty(t, mr.HGet(activeKey, "c1"))
}

func TestSweepTreatsGoneConversationAsEnded(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("self", time.Minute)
	require.NoError(t, l.Restore(ctx, Entry{ConversationID: "c-gone", Owner: "crashed"}))

	history := &releaseLog{}
	ender := goneEnder{}
	sweeper := NewSweeper(l, ender, logging.New("error")).WithTracker(history)

	assert.Equal(t, 1, sweeper.SweepOnce(ctx))
	assert.Zero(t, l.Len())
	require.Len(t, history.recs, 1)
	assert.Equal(t, "c-gone", history.recs[0].ConversationID)
}

type goneEnder struct{}

func (goneEnder) End(context.Context, string) error {
	return &tavusclient.Error{Kind: tavusclient.KindRemote, Op: "end conversation", StatusCode: 404}
}
