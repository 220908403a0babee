// Package ledger remembers which vendor conversations are live and which
// process owns them, so conversations left running by a crashed process can be
// ended by a surviving one.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/mockinterview/internal/interview"
)

// Entry is one live conversation.
type Entry struct {
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Candidate      string    `json:"candidate,omitempty"`
	Owner          string    `json:"owner"`
	TrackedAt      time.Time `json:"tracked_at"`
}

// Ledger is an interview.Tracker that can also report orphans. Releasing a
// record whose outcome is interview.OutcomeEndFailed keeps the entry but drops
// its owner, so the next sweep retries the end.
type Ledger interface {
	interview.Tracker
	// Heartbeat marks the owning instance alive for one TTL.
	Heartbeat(ctx context.Context) error
	// Orphans lists entries whose owner has stopped heartbeating.
	Orphans(ctx context.Context) ([]Entry, error)
	// Claim removes an entry and reports whether this caller removed it.
	Claim(ctx context.Context, conversationID string) (bool, error)
	// Restore puts a claimed entry back, for a later sweep to retry.
	Restore(ctx context.Context, entry Entry) error
}

var errConversationIDRequired = errors.New("ledger: conversation_id required")

// abandoned reports whether a released conversation may still be live.
func abandoned(rec interview.Record) bool {
	return rec.Outcome == interview.OutcomeEndFailed
}

func entryFromRecord(owner string, rec interview.Record) Entry {
	tracked := rec.StartedAt
	if tracked.IsZero() {
		tracked = time.Now().UTC()
	}
	return Entry{
		ConversationID: rec.ConversationID,
		SessionID:      rec.SessionID,
		Candidate:      rec.Candidate,
		Owner:          owner,
		TrackedAt:      tracked,
	}
}
