package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore, used for
// tests and dependency-free demo runs. The uniqueness and conditional-update
// semantics match the Postgres store.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	byKey    map[attemptKey]string
}

type attemptKey struct {
	userID        string
	lessonID      string
	attemptNumber int
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		byKey:    make(map[attemptKey]string),
	}
}

func (s *AttemptStore) CountAttempts(_ context.Context, userID, lessonID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.attempts {
		if a.UserID == userID && a.LessonID == lessonID {
			count++
		}
	}
	return count, nil
}

func (s *AttemptStore) Insert(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{attempt.UserID, attempt.LessonID, attempt.AttemptNumber}
	if _, exists := s.byKey[key]; exists {
		return domain.ErrAttemptConflict
	}
	s.byKey[key] = attempt.ID
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *AttemptStore) GetByID(_ context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptStore) GetActive(_ context.Context, userID, lessonID string) (domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.LessonID == lessonID && a.Status == domain.StatusInProgress {
			return a, true, nil
		}
	}
	return domain.Attempt{}, false, nil
}

func (s *AttemptStore) GetAll(_ context.Context, userID, lessonID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.UserID == userID && a.LessonID == lessonID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber > out[j].AttemptNumber
	})
	return out, nil
}

// ConditionalFinalize applies fin only if the attempt is still in_progress,
// mirroring the Postgres store's guarded UPDATE.
func (s *AttemptStore) ConditionalFinalize(_ context.Context, id string, fin domain.Finalization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if attempt.Status != domain.StatusInProgress {
		return false, nil
	}
	submittedAt := fin.SubmittedAt
	attempt.Status = fin.Status
	attempt.SubmittedAt = &submittedAt
	attempt.TimeSpent = fin.TimeSpent
	attempt.Answers = fin.Answers
	attempt.TotalPoints = fin.TotalPoints
	attempt.MaxPoints = fin.MaxPoints
	attempt.Score = fin.Score
	attempt.Passed = fin.Passed
	s.attempts[id] = attempt
	return true, nil
}

func (s *AttemptStore) ListOverdue(_ context.Context) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.Status == domain.StatusInProgress && a.TimeLimit != nil {
			out = append(out, a)
		}
	}
	return out, nil
}
