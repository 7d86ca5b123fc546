package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
)

// AttemptStore abstracts how attempts are persisted (in-memory, Postgres, etc).
type AttemptStore interface {
	// CountAttempts returns how many attempts the user has for the lesson.
	CountAttempts(ctx context.Context, userID, lessonID string) (int, error)
	// Insert stores a new attempt; domain.ErrAttemptConflict on a duplicate
	// (userID, lessonID, attemptNumber) key.
	Insert(ctx context.Context, attempt domain.Attempt) error
	// GetByID loads an attempt by submission id.
	GetByID(ctx context.Context, id string) (domain.Attempt, error)
	// GetActive returns the user's in-progress attempt for the lesson, if any.
	GetActive(ctx context.Context, userID, lessonID string) (domain.Attempt, bool, error)
	// GetAll returns the user's attempts for the lesson, attempt number descending.
	GetAll(ctx context.Context, userID, lessonID string) ([]domain.Attempt, error)
	// ConditionalFinalize applies fin only if the attempt is still in_progress
	// and reports whether the write landed. Both submit and the sweeper funnel
	// through this single primitive.
	ConditionalFinalize(ctx context.Context, id string, fin domain.Finalization) (bool, error)
	// ListOverdue returns in-progress attempts that carry a time limit.
	ListOverdue(ctx context.Context) ([]domain.Attempt, error)
}

// QuizCatalog loads quiz definitions from the external course collaborator.
type QuizCatalog interface {
	GetDefinition(ctx context.Context, courseID, lessonID string) (domain.QuizDefinition, error)
}

// AttemptService contains the attempt lifecycle use cases.
type AttemptService struct {
	store   AttemptStore
	catalog QuizCatalog
	now     func() time.Time
	newID   func() string
}

func NewAttemptService(store AttemptStore, catalog QuizCatalog) *AttemptService {
	return &AttemptService{
		store:   store,
		catalog: catalog,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *AttemptService) WithClock(now func() time.Time) *AttemptService {
	s.now = now
	return s
}

// WithIDGenerator overrides submission id generation for deterministic tests.
func (s *AttemptService) WithIDGenerator(newID func() string) *AttemptService {
	s.newID = newID
	return s
}

// StartAttempt creates the next numbered attempt for the user on a quiz lesson,
// snapshotting the definition's time limit and passing score. A concurrent
// double-start surfaces as domain.ErrAttemptConflict for the caller to retry.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, courseID, lessonID string) (domain.StartedAttempt, error) {
	def, err := s.catalog.GetDefinition(ctx, courseID, lessonID)
	if err != nil {
		return domain.StartedAttempt{}, err
	}

	count, err := s.store.CountAttempts(ctx, userID, lessonID)
	if err != nil {
		return domain.StartedAttempt{}, fmt.Errorf("count attempts: %w", err)
	}

	attempt := domain.Attempt{
		ID:            s.newID(),
		CourseID:      courseID,
		LessonID:      lessonID,
		UserID:        userID,
		AttemptNumber: count + 1,
		Status:        domain.StatusInProgress,
		StartedAt:     s.now(),
		TimeLimit:     def.TimeLimit,
		PassingScore:  def.PassingScore,
	}
	if err := s.store.Insert(ctx, attempt); err != nil {
		return domain.StartedAttempt{}, err
	}

	log.Info().
		Str("user_id", userID).
		Str("lesson_id", lessonID).
		Int("attempt_number", attempt.AttemptNumber).
		Msg("attempt started")

	return domain.StartedAttempt{
		SubmissionID:  attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		StartedAt:     attempt.StartedAt,
		TimeLimit:     attempt.TimeLimit,
	}, nil
}

// GetActiveAttempt returns the caller's running attempt for the lesson. An
// overdue attempt is finalized as expired on the way out (lazy expiry), in which
// case the caller sees no active attempt rather than a stale one.
func (s *AttemptService) GetActiveAttempt(ctx context.Context, userID, lessonID string) (*domain.ActiveAttemptView, error) {
	attempt, ok, err := s.store.GetActive(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get active attempt: %w", err)
	}
	if !ok {
		return nil, nil
	}

	now := s.now()
	if domain.IsExpired(attempt, now) {
		if err := s.expire(ctx, attempt, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &domain.ActiveAttemptView{
		SubmissionID:  attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		TimeRemaining: domain.RemainingSeconds(attempt, now),
	}, nil
}

// GetQuizView assembles the learner-facing quiz page: questions with answers
// stripped, attempt history, and the active attempt after the lazy-expiry check.
func (s *AttemptService) GetQuizView(ctx context.Context, userID, courseID, lessonID string) (domain.QuizView, error) {
	def, err := s.catalog.GetDefinition(ctx, courseID, lessonID)
	if err != nil {
		return domain.QuizView{}, err
	}

	active, err := s.GetActiveAttempt(ctx, userID, lessonID)
	if err != nil {
		return domain.QuizView{}, err
	}
	history, err := s.GetAttemptHistory(ctx, userID, lessonID)
	if err != nil {
		return domain.QuizView{}, err
	}

	questions := make([]domain.QuestionView, 0, len(def.Questions))
	for _, q := range def.Questions {
		questions = append(questions, domain.QuestionView{
			ID:       q.ID,
			Question: q.Question,
			Type:     q.Type,
			Options:  q.Options,
			Points:   q.Points,
		})
	}

	best := 0
	for _, a := range history {
		if a.Status == domain.StatusGraded && a.Score > best {
			best = a.Score
		}
	}

	return domain.QuizView{
		CourseID:         courseID,
		LessonID:         lessonID,
		Questions:        questions,
		TimeLimit:        def.TimeLimit,
		PassingScore:     def.PassingScore,
		BestScore:        best,
		AttemptsUsed:     len(history),
		PreviousAttempts: history,
		Active:           active,
	}, nil
}

// SubmitAttempt grades and finalizes the caller's attempt. The server clock is
// authoritative: answers arriving after the deadline are discarded and the
// attempt is finalized as expired. A lost race against the sweeper (or a
// concurrent lazy read) is detected through the conditional write and re-read,
// never reported as success.
func (s *AttemptService) SubmitAttempt(ctx context.Context, userID, submissionID string, answers []domain.AnswerSubmission) (domain.AttemptResult, error) {
	attempt, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if attempt.UserID != userID {
		return domain.AttemptResult{}, domain.ErrForbidden
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.AttemptResult{}, domain.ErrAlreadyFinalized
	}
	if err := validateAnswers(answers); err != nil {
		return domain.AttemptResult{}, err
	}

	now := s.now()
	if domain.IsExpired(attempt, now) {
		if err := s.expire(ctx, attempt, now); err != nil {
			return domain.AttemptResult{}, err
		}
		return domain.AttemptResult{}, domain.ErrAttemptExpired
	}

	def, err := s.catalog.GetDefinition(ctx, attempt.CourseID, attempt.LessonID)
	if err != nil {
		return domain.AttemptResult{}, err
	}

	records := grading.Grade(answers, def.Questions)
	totalPoints, maxPoints, score := grading.Totals(records)
	fin := domain.Finalization{
		Status:      domain.StatusGraded,
		SubmittedAt: now,
		TimeSpent:   domain.ElapsedSeconds(attempt, now),
		Answers:     records,
		TotalPoints: totalPoints,
		MaxPoints:   maxPoints,
		Score:       score,
		Passed:      score >= attempt.PassingScore,
	}

	landed, err := s.store.ConditionalFinalize(ctx, attempt.ID, fin)
	if err != nil {
		return domain.AttemptResult{}, fmt.Errorf("finalize attempt: %w", err)
	}
	if !landed {
		// Lost the race to the sweeper or a concurrent read; re-derive the
		// outcome from the row that actually won.
		current, err := s.store.GetByID(ctx, attempt.ID)
		if err != nil {
			return domain.AttemptResult{}, err
		}
		if current.Status == domain.StatusExpired {
			return domain.AttemptResult{}, domain.ErrAttemptExpired
		}
		return domain.AttemptResult{}, domain.ErrAlreadyFinalized
	}

	log.Info().
		Str("submission_id", attempt.ID).
		Int("score", score).
		Bool("passed", fin.Passed).
		Msg("attempt graded")

	graded, err := s.store.GetByID(ctx, attempt.ID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return buildResult(graded, def), nil
}

// GetResults returns the graded outcome of a finalized attempt, revealing
// correct answers and explanations. A still-running attempt goes through the
// lazy-expiry check first; if it genuinely remains active the results stay
// sealed and ErrAttemptInProgress is returned.
func (s *AttemptService) GetResults(ctx context.Context, userID, submissionID string) (domain.AttemptResult, error) {
	attempt, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if attempt.UserID != userID {
		return domain.AttemptResult{}, domain.ErrForbidden
	}

	if attempt.Status == domain.StatusInProgress {
		now := s.now()
		if !domain.IsExpired(attempt, now) {
			return domain.AttemptResult{}, domain.ErrAttemptInProgress
		}
		if err := s.expire(ctx, attempt, now); err != nil {
			return domain.AttemptResult{}, err
		}
		attempt, err = s.store.GetByID(ctx, submissionID)
		if err != nil {
			return domain.AttemptResult{}, err
		}
	}

	def, err := s.catalog.GetDefinition(ctx, attempt.CourseID, attempt.LessonID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return buildResult(attempt, def), nil
}

// GetAttemptHistory lists the user's attempts for a lesson, newest first.
func (s *AttemptService) GetAttemptHistory(ctx context.Context, userID, lessonID string) ([]domain.AttemptSummary, error) {
	attempts, err := s.store.GetAll(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("attempt history: %w", err)
	}
	summaries := make([]domain.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		summaries = append(summaries, domain.AttemptSummary{
			AttemptNumber: a.AttemptNumber,
			Score:         a.Score,
			Passed:        a.Passed,
			Status:        a.Status,
			SubmittedAt:   a.SubmittedAt,
		})
	}
	return summaries, nil
}

// AttemptTimer reports the attempt's status and remaining seconds, finalizing an
// overdue attempt on the way. The websocket countdown feed polls this.
func (s *AttemptService) AttemptTimer(ctx context.Context, userID, submissionID string) (domain.AttemptStatus, *int, error) {
	attempt, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		return "", nil, err
	}
	if attempt.UserID != userID {
		return "", nil, domain.ErrForbidden
	}
	if attempt.Status != domain.StatusInProgress {
		return attempt.Status, nil, nil
	}

	now := s.now()
	if domain.IsExpired(attempt, now) {
		if err := s.expire(ctx, attempt, now); err != nil {
			return "", nil, err
		}
		return domain.StatusExpired, nil, nil
	}
	return domain.StatusInProgress, domain.RemainingSeconds(attempt, now), nil
}

// expire finalizes an overdue attempt through the conditional write. A write
// that does not land means another path already finalized the row, which is the
// outcome we wanted anyway.
func (s *AttemptService) expire(ctx context.Context, attempt domain.Attempt, now time.Time) error {
	fin := domain.Finalization{
		Status:      domain.StatusExpired,
		SubmittedAt: now,
		TimeSpent:   domain.ElapsedSeconds(attempt, now),
	}
	landed, err := s.store.ConditionalFinalize(ctx, attempt.ID, fin)
	if err != nil {
		return fmt.Errorf("expire attempt: %w", err)
	}
	if landed {
		log.Info().
			Str("submission_id", attempt.ID).
			Str("user_id", attempt.UserID).
			Msg("attempt expired on read")
	}
	return nil
}

func validateAnswers(answers []domain.AnswerSubmission) error {
	if answers == nil {
		return domain.ErrInvalidSubmission
	}
	for _, a := range answers {
		if a.QuestionID == "" {
			return domain.ErrInvalidSubmission
		}
	}
	return nil
}

// buildResult enriches stored answer records with the correct answers and
// explanations from the definition. Expired attempts have no records to enrich;
// their totals stay zeroed.
func buildResult(attempt domain.Attempt, def domain.QuizDefinition) domain.AttemptResult {
	questions := make(map[string]domain.QuestionDefinition, len(def.Questions))
	for _, q := range def.Questions {
		questions[q.ID] = q
	}

	results := make([]domain.QuestionResult, 0, len(attempt.Answers))
	for _, r := range attempt.Answers {
		qr := domain.QuestionResult{
			QuestionID:     r.QuestionID,
			Answer:         r.Answer,
			IsCorrect:      r.IsCorrect,
			PointsEarned:   r.PointsEarned,
			PointsPossible: r.PointsPossible,
		}
		if q, ok := questions[r.QuestionID]; ok {
			qr.Question = q.Question
			qr.CorrectAnswer = q.CorrectAnswer
			qr.Explanation = q.Explanation
		}
		results = append(results, qr)
	}

	return domain.AttemptResult{
		SubmissionID:  attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		Status:        attempt.Status,
		Score:         attempt.Score,
		TotalPoints:   attempt.TotalPoints,
		MaxPoints:     attempt.MaxPoints,
		Passed:        attempt.Passed,
		TimeSpent:     attempt.TimeSpent,
		SubmittedAt:   attempt.SubmittedAt,
		Results:       results,
	}
}
