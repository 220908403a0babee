package ledger

import (
	"context"
	"time"

	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// Ender ends a vendor conversation. *tavusclient.Client satisfies it.
type Ender interface {
	End(ctx context.Context, conversationID string) error
}

type sweepMetrics interface {
	ObserveOrphanEnded(ok bool)
}

// Sweeper keeps this instance's heartbeat alive and ends conversations whose
// owners stopped heartbeating.
type Sweeper struct {
	ledger      Ledger
	ender       Ender
	logger      *logging.Logger
	metrics     sweepMetrics
	released    interview.Tracker
	interval    time.Duration
	heartbeat   time.Duration
	callTimeout time.Duration
}

func NewSweeper(ledger Ledger, ender Ender, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		ledger:      ledger,
		ender:       ender,
		logger:      logger,
		interval:    time.Minute,
		heartbeat:   10 * time.Second,
		callTimeout: 10 * time.Second,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithHeartbeatTTL sets the heartbeat period to a third of the ledger TTL.
func (s *Sweeper) WithHeartbeatTTL(ttl time.Duration) *Sweeper {
	if ttl > 0 {
		s.heartbeat = ttl / 3
	}
	return s
}

func (s *Sweeper) WithMetrics(m sweepMetrics) *Sweeper {
	s.metrics = m
	return s
}

// WithTracker releases every ended orphan through t, typically the history
// store. t must not be the ledger itself.
func (s *Sweeper) WithTracker(t interview.Tracker) *Sweeper {
	s.released = t
	return s
}

// Run heartbeats and sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.ledger == nil || s.ender == nil {
		return nil
	}
	s.beat(ctx)
	s.SweepOnce(ctx)

	beat := time.NewTicker(s.heartbeat)
	defer beat.Stop()
	sweep := time.NewTicker(s.interval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-beat.C:
			s.beat(ctx)
		case <-sweep.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) beat(ctx context.Context) {
	if err := s.ledger.Heartbeat(ctx); err != nil {
		s.logger.Error("ledger heartbeat failed", "error", err)
	}
}

// SweepOnce ends every orphan this caller manages to claim and returns how
// many were ended.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	orphans, err := s.ledger.Orphans(ctx)
	if err != nil {
		s.logger.Error("orphan sweep: list failed", "error", err)
		return 0
	}
	ended := 0
	for _, entry := range orphans {
		claimed, err := s.ledger.Claim(ctx, entry.ConversationID)
		if err != nil {
			s.logger.Error("orphan sweep: claim failed", "error", err, "conversation_id", entry.ConversationID)
			continue
		}
		if !claimed {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err = s.ender.End(callCtx, entry.ConversationID)
		cancel()
		if tavusclient.IsGone(err) {
			s.logger.Info("orphan sweep: conversation already gone", "conversation_id", entry.ConversationID)
			err = nil
		}
		if s.metrics != nil {
			s.metrics.ObserveOrphanEnded(err == nil)
		}
		if err != nil {
			s.logger.Warn("orphan sweep: end failed; will retry",
				"error", err,
				"conversation_id", entry.ConversationID,
				"owner", entry.Owner,
			)
			if rerr := s.ledger.Restore(ctx, entry); rerr != nil {
				s.logger.Error("orphan sweep: restore failed", "error", rerr, "conversation_id", entry.ConversationID)
			}
			continue
		}
		ended++
		s.release(ctx, entry)
		s.logger.Info("orphan sweep: conversation ended",
			"conversation_id", entry.ConversationID,
			"session_id", entry.SessionID,
			"owner", entry.Owner,
		)
	}
	return ended
}

func (s *Sweeper) release(ctx context.Context, entry Entry) {
	if s.released == nil {
		return
	}
	rec := interview.Record{
		SessionID:      entry.SessionID,
		Candidate:      entry.Candidate,
		ConversationID: entry.ConversationID,
		EndedAt:        time.Now().UTC(),
		Outcome:        interview.OutcomeOrphanEnded,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.released.Release(callCtx, rec); err != nil {
		s.logger.Warn("orphan sweep: release failed", "error", err, "conversation_id", entry.ConversationID)
	}
}
