// Package history persists interview sessions for the dashboard.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/mockinterview/internal/interview"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store records sessions in the interview_sessions table. It is an
// interview.Tracker (writes) and an interview.HistoryReader (reads).
type Store struct {
	db db
}

// NewStore wraps a pgx pool (or anything with the same Exec/Query surface).
func NewStore(pool db) *Store {
	if pool == nil {
		panic("history: pgx pool required")
	}
	return &Store{db: pool}
}

var _ interview.Tracker = (*Store)(nil)

// Track inserts the session when its conversation becomes active.
func (s *Store) Track(ctx context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errors.New("history: conversation_id required")
	}
	query := `
		INSERT INTO interview_sessions
			(session_id, conversation_id, candidate, conversation_url, conversation_name, persona_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query,
		rec.SessionID,
		rec.ConversationID,
		rec.Candidate,
		rec.ConversationURL,
		rec.ConversationName,
		rec.PersonaID,
		startedAt(rec),
	); err != nil {
		return fmt.Errorf("history: insert session: %w", err)
	}
	return nil
}

// Release stamps the end time and outcome. A row whose end failed may be
// stamped again once a later end succeeds.
func (s *Store) Release(ctx context.Context, rec interview.Record) error {
	if rec.ConversationID == "" {
		return errors.New("history: conversation_id required")
	}
	ended := rec.EndedAt
	if ended.IsZero() {
		ended = time.Now().UTC()
	}
	query := `
		UPDATE interview_sessions
		SET ended_at = $2, outcome = $3
		WHERE conversation_id = $1 AND (ended_at IS NULL OR outcome = 'end_failed')
	`
	if _, err := s.db.Exec(ctx, query, rec.ConversationID, ended, rec.Outcome); err != nil {
		return fmt.Errorf("history: mark ended: %w", err)
	}
	return nil
}

// Recent lists the newest sessions, optionally for a single candidate.
func (s *Store) Recent(ctx context.Context, candidate string, limit int) ([]interview.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT session_id, conversation_id, candidate, conversation_url, conversation_name,
		       persona_id, started_at, ended_at, outcome
		FROM interview_sessions
		WHERE ($1 = '' OR candidate = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, candidate, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	var out []interview.Record
	for rows.Next() {
		var rec interview.Record
		var endedAt *time.Time
		var outcome *string
		if err := rows.Scan(
			&rec.SessionID,
			&rec.ConversationID,
			&rec.Candidate,
			&rec.ConversationURL,
			&rec.ConversationName,
			&rec.PersonaID,
			&rec.StartedAt,
			&endedAt,
			&outcome,
		); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		if endedAt != nil {
			rec.EndedAt = *endedAt
		}
		if outcome != nil {
			rec.Outcome = *outcome
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func startedAt(rec interview.Record) time.Time {
	if rec.StartedAt.IsZero() {
		return time.Now().UTC()
	}
	return rec.StartedAt
}
