package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"quiz-attempt-service/internal/domain"
)

// RunLock serializes overlapping sweep runs across instances. Each per-row
// write is itself conditional, so the lock only avoids redundant scans.
type RunLock interface {
	// TryLock returns (release, true) on acquisition, (nil, false) when another
	// run holds the lock.
	TryLock(ctx context.Context) (func(), bool, error)
}

// Sweeper periodically finalizes overdue attempts, independent of request
// traffic. It shares the store's conditional write with the interactive paths,
// so whichever finalizer wins the race, the row transitions exactly once.
type Sweeper struct {
	store    AttemptStore
	lock     RunLock
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store AttemptStore, lock RunLock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		lock:     lock,
		interval: interval,
		now:      time.Now,
	}
}

// WithClock overrides the sweeper clock for deterministic tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("expiration sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiration sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce finalizes every overdue in-progress attempt and returns how many
// rows it expired. A failed write on one row is logged and does not abort the
// rest of the batch. Re-running over already finalized rows is a no-op: the
// query excludes them and the conditional write refuses them.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	release, acquired, err := s.lock.TryLock(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		log.Debug().Msg("sweep already running, skipping")
		return 0, nil
	}
	defer release()

	candidates, err := s.store.ListOverdue(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for _, attempt := range candidates {
		if !domain.IsExpired(attempt, now) {
			continue
		}
		fin := domain.Finalization{
			Status:      domain.StatusExpired,
			SubmittedAt: now,
			TimeSpent:   domain.ElapsedSeconds(attempt, now),
		}
		landed, err := s.store.ConditionalFinalize(ctx, attempt.ID, fin)
		if err != nil {
			log.Warn().Err(err).Str("submission_id", attempt.ID).Msg("sweep could not finalize attempt")
			continue
		}
		if landed {
			expired++
			log.Info().
				Str("submission_id", attempt.ID).
				Str("user_id", attempt.UserID).
				Str("lesson_id", attempt.LessonID).
				Msg("attempt expired by sweep")
		}
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Int("scanned", len(candidates)).Msg("sweep finished")
	}
	return expired, nil
}
