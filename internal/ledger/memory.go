package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/mockinterview/internal/interview"
)

// MemoryLedger is the single-process ledger used when Redis is not configured.
// Entries owned by other owners only appear in tests and tooling.
type MemoryLedger struct {
	owner string
	ttl   time.Duration
	now   func() time.Time

	mu         sync.Mutex
	entries    map[string]Entry
	heartbeats map[string]time.Time
}

func NewMemoryLedger(owner string, ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryLedger{
		owner:      owner,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[string]Entry),
		heartbeats: make(map[string]time.Time),
	}
}

func (l *MemoryLedger) Track(_ context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errConversationIDRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[rec.ConversationID] = entryFromRecord(l.owner, rec)
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errConversationIDRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if abandoned(rec) {
		entry, ok := l.entries[rec.ConversationID]
		if !ok {
			entry = entryFromRecord("", rec)
		}
		entry.Owner = ""
		l.entries[rec.ConversationID] = entry
		return nil
	}
	delete(l.entries, rec.ConversationID)
	return nil
}

func (l *MemoryLedger) Heartbeat(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeats[l.owner] = l.now().Add(l.ttl)
	return nil
}

func (l *MemoryLedger) Orphans(_ context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []Entry
	for _, entry := range l.entries {
		if expiry, ok := l.heartbeats[entry.Owner]; !ok || now.After(expiry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Claim(_ context.Context, conversationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[conversationID]; !ok {
		return false, nil
	}
	delete(l.entries, conversationID)
	return true, nil
}

func (l *MemoryLedger) Restore(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[entry.ConversationID]; !ok {
		l.entries[entry.ConversationID] = entry
	}
	return nil
}

// Len returns the number of tracked conversations.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
