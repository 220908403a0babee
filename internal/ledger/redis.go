package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/mockinterview/internal/interview"
)

const (
	activeKey         = "interview:active"
	instanceKeyPrefix = "interview:instance:"
)

// RedisLedger keeps live conversations in a Redis hash and instance liveness in
// expiring keys, so every API replica sees the same ledger.
type RedisLedger struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewRedisLedger creates a ledger for the instance named owner whose heartbeat
// expires after ttl.
func NewRedisLedger(rdb *redis.Client, owner string, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLedger{rdb: rdb, owner: owner, ttl: ttl}
}

func instanceKey(owner string) string {
	return instanceKeyPrefix + owner
}

// Track records a conversation as live and owned by this instance.
func (l *RedisLedger) Track(ctx context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errConversationIDRequired
	}
	data, err := json.Marshal(entryFromRecord(l.owner, rec))
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	if err := l.rdb.HSet(ctx, activeKey, rec.ConversationID, data).Err(); err != nil {
		return fmt.Errorf("ledger: track: %w", err)
	}
	return nil
}

// Release drops a conversation from the ledger, or leaves it ownerless when
// its end failed.
func (l *RedisLedger) Release(ctx context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errConversationIDRequired
	}
	if abandoned(rec) {
		return l.disown(ctx, rec)
	}
	if err := l.rdb.HDel(ctx, activeKey, rec.ConversationID).Err(); err != nil {
		return fmt.Errorf("ledger: release: %w", err)
	}
	return nil
}

func (l *RedisLedger) disown(ctx context.Context, rec interview.Record) error {
	entry := entryFromRecord("", rec)
	raw, err := l.rdb.HGet(ctx, activeKey, rec.ConversationID).Result()
	switch {
	case err == nil:
		if jerr := json.Unmarshal([]byte(raw), &entry); jerr != nil {
			entry = entryFromRecord("", rec)
		}
	case !errors.Is(err, redis.Nil):
		return fmt.Errorf("ledger: disown: %w", err)
	}
	entry.ConversationID = rec.ConversationID
	entry.Owner = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	if err := l.rdb.HSet(ctx, activeKey, rec.ConversationID, data).Err(); err != nil {
		return fmt.Errorf("ledger: disown: %w", err)
	}
	return nil
}

// Heartbeat refreshes this instance's liveness key.
func (l *RedisLedger) Heartbeat(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := l.rdb.Set(ctx, instanceKey(l.owner), now, l.ttl).Err(); err != nil {
		return fmt.Errorf("ledger: heartbeat: %w", err)
	}
	return nil
}

// Orphans returns entries whose owner's liveness key has expired.
func (l *RedisLedger) Orphans(ctx context.Context) ([]Entry, error) {
	raw, err := l.rdb.HGetAll(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(raw))
	owners := map[string]*redis.IntCmd{}
	pipe := l.rdb.Pipeline()
	for id, data := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// unreadable entries are treated as ownerless
			entry = Entry{ConversationID: id}
		}
		entry.ConversationID = id
		entries = append(entries, entry)
		if entry.Owner != "" {
			if _, seen := owners[entry.Owner]; !seen {
				owners[entry.Owner] = pipe.Exists(ctx, instanceKey(entry.Owner))
			}
		}
	}
	if len(owners) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("ledger: check owners: %w", err)
		}
	}

	var orphans []Entry
	for _, entry := range entries {
		if entry.Owner == "" {
			orphans = append(orphans, entry)
			continue
		}
		if owners[entry.Owner].Val() == 0 {
			orphans = append(orphans, entry)
		}
	}
	return orphans, nil
}

// Claim removes the entry; only the caller whose HDEL removed it may end it.
func (l *RedisLedger) Claim(ctx context.Context, conversationID string) (bool, error) {
	n, err := l.rdb.HDel(ctx, activeKey, conversationID).Result()
	if err != nil {
		return false, fmt.Errorf("ledger: claim: %w", err)
	}
	return n == 1, nil
}

// Restore re-adds an entry with its original owner.
func (l *RedisLedger) Restore(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	if err := l.rdb.HSetNX(ctx, activeKey, entry.ConversationID, data).Err(); err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}
	return nil
}
