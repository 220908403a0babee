package interview

import (
	"context"
	"errors"
	"time"
)

// Release outcomes.
const (
	OutcomeEnded       = "ended"
	OutcomeEndFailed   = "end_failed"
	OutcomeOrphanEnded = "orphan_ended"
)

// Record describes a conversation acquired or released by a session.
type Record struct {
	SessionID        string    `json:"session_id"`
	Candidate        string    `json:"candidate,omitempty"`
	ConversationID   string    `json:"conversation_id"`
	ConversationURL  string    `json:"conversation_url,omitempty"`
	ConversationName string    `json:"conversation_name,omitempty"`
	PersonaID        string    `json:"persona_id,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	Outcome          string    `json:"outcome,omitempty"`
}

// Tracker is told when a session starts holding a vendor conversation and when
// it lets go of it. A release with OutcomeEndFailed means the vendor may still
// be running the conversation. Failures are logged by the controller and never
// affect the session state.
type Tracker interface {
	Track(ctx context.Context, rec Record) error
	Release(ctx context.Context, rec Record) error
}

// Trackers fans a record out to several trackers.
type Trackers []Tracker

func (ts Trackers) Track(ctx context.Context, rec Record) error {
	var errs []error
	for _, t := range ts {
		if t == nil {
			continue
		}
		if err := t.Track(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ts Trackers) Release(ctx context.Context, rec Record) error {
	var errs []error
	for _, t := range ts {
		if t == nil {
			continue
		}
		if err := t.Release(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
