package ledger

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/mockinterview/internal/interview"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLedgerTrackRelease(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLedger(rdb, "inst-a", 30*time.Second)

	require.NoError(t, l.Track(ctx, interview.Record{SessionID: "s1", ConversationID: "c1", Candidate: "alice"}))
	assert.True(t, mr.Exists(activeKey))
	assert.NotEmpty(t, mr.HGet(activeKey, "c1"))

	require.NoError(t, l.Release(ctx, interview.Record{ConversationID: "c1"}))
	assert.Empty(t, mr.HGet(activeKey, "c1"))

	assert.ErrorIs(t, l.Track(ctx, interview.Record{}), errConversationIDRequired)
}

func TestRedisLedgerOrphansFollowHeartbeat(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	dead := NewRedisLedger(rdb, "inst-dead", 30*time.Second)
	live := NewRedisLedger(rdb, "inst-live", 30*time.Second)

	require.NoError(t, dead.Heartbeat(ctx))
	require.NoError(t, live.Heartbeat(ctx))
	require.NoError(t, dead.Track(ctx, interview.Record{SessionID: "s1", ConversationID: "c-dead"}))
	require.NoError(t, live.Track(ctx, interview.Record{SessionID: "s2", ConversationID: "c-live"}))

	orphans, err := live.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans, "both owners are heartbeating")

	mr.FastForward(31 * time.Second)
	require.NoError(t, live.Heartbeat(ctx))

	orphans, err = live.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "c-dead", orphans[0].ConversationID)
	assert.Equal(t, "inst-dead", orphans[0].Owner)
	assert.Equal(t, "s1", orphans[0].SessionID)
}

func TestRedisLedgerUnreadableEntryIsOrphan(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.HSet(activeKey, "c-bad", "{not json")

	orphans, err := NewRedisLedger(rdb, "inst", time.Minute).Orphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "c-bad", orphans[0].ConversationID)
}

func TestRedisLedgerClaimOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLedger(rdb, "inst", time.Minute)
	require.NoError(t, l.Track(ctx, interview.Record{ConversationID: "c1"}))

	first, err := l.Claim(ctx, "c1")
	require.NoError(t, err)
	second, err := l.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, l.Restore(ctx, Entry{ConversationID: "c1", Owner: "inst-dead"}))
	orphans, err := l.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "inst-dead", orphans[0].Owner)
}
