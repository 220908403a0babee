package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/mockinterview/internal/interview"
)

func TestStoreTrackAndRelease(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	started := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO interview_sessions").
		WithArgs("s1", "c1", "alice", "https://x", "AI Interview", "pe13ed370726", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Track(context.Background(), interview.Record{
		SessionID:        "s1",
		ConversationID:   "c1",
		Candidate:        "alice",
		ConversationURL:  "https://x",
		ConversationName: "AI Interview",
		PersonaID:        "pe13ed370726",
		StartedAt:        started,
	}))

	ended := started.Add(20 * time.Minute)
	mock.ExpectExec("UPDATE interview_sessions").
		WithArgs("c1", ended, "ended").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.Release(context.Background(), interview.Record{
		ConversationID: "c1",
		EndedAt:        ended,
		Outcome:        "ended",
	}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRejectsMissingConversationID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	assert.Error(t, store.Track(context.Background(), interview.Record{SessionID: "s1"}))
	assert.Error(t, store.Release(context.Background(), interview.Record{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	ended := started.Add(15 * time.Minute)
	outcome := "ended"
	rows := pgxmock.NewRows([]string{
		"session_id", "conversation_id", "candidate", "conversation_url", "conversation_name",
		"persona_id", "started_at", "ended_at", "outcome",
	}).
		AddRow("s2", "c2", "alice", "https://y", "AI Interview", "p", started.Add(time.Hour), (*time.Time)(nil), (*string)(nil)).
		AddRow("s1", "c1", "alice", "https://x", "AI Interview", "p", started, &ended, &outcome)
	mock.ExpectQuery("SELECT session_id").WithArgs("alice", 5).WillReturnRows(rows)

	records, err := NewStore(mock).Recent(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c2", records[0].ConversationID)
	assert.True(t, records[0].EndedAt.IsZero())
	assert.Equal(t, ended, records[1].EndedAt)
	assert.Equal(t, "ended", records[1].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecentQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT session_id").WithArgs("", 20).WillReturnError(errors.New("db down"))
	_, err = NewStore(mock).Recent(context.Background(), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history: list sessions")
}

func TestStoreReleaseRestampsFailedEnd(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ended := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("(ended_at IS NULL OR outcome = 'end_failed')")).
		WithArgs("c1", ended, interview.OutcomeOrphanEnded).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewStore(mock).Release(context.Background(), interview.Record{
		ConversationID: "c1",
		EndedAt:        ended,
		Outcome:        interview.OutcomeOrphanEnded,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
