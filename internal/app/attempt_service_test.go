package app_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCourse(timeLimit *int) domain.Course {
	return domain.Course{
		ID: "course-1",
		Modules: []domain.Module{{
			ID: "m1",
			Lessons: []domain.Lesson{
				{ID: "lesson-video", Type: "video"},
				{
					ID:   "lesson-quiz",
					Type: "quiz",
					Quiz: &domain.QuizDefinition{
						TimeLimit:    timeLimit,
						PassingScore: 70,
						Questions: []domain.QuestionDefinition{
							{ID: "q1", Question: "Capital of France?", Type: domain.QuestionText, CorrectAnswer: "Paris", Points: 10, Explanation: "It is Paris."},
							{ID: "q2", Question: "The Nile flows north.", Type: domain.QuestionTrueFalse, CorrectAnswer: true, Points: 10},
							{ID: "q3", Question: "European countries?", Type: domain.QuestionMultipleChoice, Options: []string{"Spain", "Peru", "Italy"}, CorrectAnswer: []string{"Spain", "Italy"}, Points: 10},
						},
					},
				},
			},
		}},
	}
}

func newTestService(timeLimit *int) (*app.AttemptService, *memory.AttemptStore, *fakeClock) {
	store := memory.NewAttemptStore()
	catalog := memory.NewCatalog(memory.NewStaticCourseLoader(map[string]domain.Course{
		"course-1": testCourse(timeLimit),
	}), 5*time.Minute)
	clock := &fakeClock{now: time.Date(2025, 1, 14, 9, 0, 0, 0, time.UTC)}
	service := app.NewAttemptService(store, catalog).WithClock(clock.Now)
	return service, store, clock
}

func mustStart(t *testing.T, service *app.AttemptService) domain.StartedAttempt {
	t.Helper()
	started, err := service.StartAttempt(context.Background(), "u1", "course-1", "lesson-quiz")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return started
}

func fullAnswers() []domain.AnswerSubmission {
	return []domain.AnswerSubmission{
		{QuestionID: "q1", Answer: " paris "},
		{QuestionID: "q2", Answer: "true"},
		{QuestionID: "q3", Answer: []string{"Italy", "Spain"}},
	}
}

func TestStartAttemptNumbering(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)

	for want := 1; want <= 3; want++ {
		started, err := service.StartAttempt(ctx, "u1", "course-1", "lesson-quiz")
		if err != nil {
			t.Fatalf("start %d: %v", want, err)
		}
		if started.AttemptNumber != want {
			t.Fatalf("expected attempt number %d, got %d", want, started.AttemptNumber)
		}
	}
}

func TestStartAttemptSnapshotsDefinition(t *testing.T) {
	limit := 5
	service, store, _ := newTestService(&limit)
	started := mustStart(t, service)

	if started.TimeLimit == nil || *started.TimeLimit != 5 {
		t.Fatalf("expected snapshotted time limit 5, got %v", started.TimeLimit)
	}
	attempt, err := store.GetByID(context.Background(), started.SubmissionID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.PassingScore != 70 {
		t.Fatalf("expected snapshotted passing score 70, got %d", attempt.PassingScore)
	}
}

func TestStartAttemptErrors(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)

	if _, err := service.StartAttempt(ctx, "u1", "nope", "lesson-quiz"); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected course not found, got %v", err)
	}
	if _, err := service.StartAttempt(ctx, "u1", "course-1", "nope"); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Fatalf("expected lesson not found, got %v", err)
	}
	if _, err := service.StartAttempt(ctx, "u1", "course-1", "lesson-video"); !errors.Is(err, domain.ErrNotAQuiz) {
		t.Fatalf("expected not a quiz, got %v", err)
	}
}

func TestConcurrentStartsProduceGaplessNumbers(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)

	const n = 20
	numbers := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				started, err := service.StartAttempt(ctx, "u1", "course-1", "lesson-quiz")
				if errors.Is(err, domain.ErrAttemptConflict) {
					continue // retry, as callers are expected to
				}
				if err != nil {
					t.Errorf("start attempt: %v", err)
					return
				}
				numbers <- started.AttemptNumber
				return
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate attempt number %d", num)
		}
		seen[num] = true
	}
	for want := 1; want <= n; want++ {
		if !seen[want] {
			t.Fatalf("missing attempt number %d; got %v", want, seen)
		}
	}
}

func TestSubmitAttemptGrades(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(nil)
	started := mustStart(t, service)

	result, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != domain.StatusGraded {
		t.Fatalf("expected graded, got %s", result.Status)
	}
	if result.TotalPoints != 30 || result.MaxPoints != 30 || result.Score != 100 || !result.Passed {
		t.Fatalf("expected full marks, got %+v", result)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if result.Results[0].CorrectAnswer != "Paris" || result.Results[0].Explanation == "" {
		t.Fatalf("finalized results reveal correct answer and explanation: %+v", result.Results[0])
	}

	attempt, err := store.GetByID(ctx, started.SubmissionID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Status != domain.StatusGraded || attempt.SubmittedAt == nil {
		t.Fatalf("attempt not durably graded: %+v", attempt)
	}
}

func TestSubmitAttemptPartialScore(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)
	started := mustStart(t, service)

	result, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, []domain.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris"},
		{QuestionID: "q2", Answer: true},
		{QuestionID: "q3", Answer: []string{"Peru"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TotalPoints != 20 || result.MaxPoints != 30 || result.Score != 67 {
		t.Fatalf("expected 20/30 score 67, got %+v", result)
	}
	if result.Passed {
		t.Fatalf("67 < 70 must not pass")
	}
}

func TestSubmitAttemptValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)
	started := mustStart(t, service)

	if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, nil); !errors.Is(err, domain.ErrInvalidSubmission) {
		t.Fatalf("expected invalid submission for nil answers, got %v", err)
	}
	if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, []domain.AnswerSubmission{{Answer: "x"}}); !errors.Is(err, domain.ErrInvalidSubmission) {
		t.Fatalf("expected invalid submission for empty question id, got %v", err)
	}
}

func TestSubmitAttemptOwnership(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)
	started := mustStart(t, service)

	if _, err := service.SubmitAttempt(ctx, "intruder", started.SubmissionID, fullAnswers()); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := service.SubmitAttempt(ctx, "u1", "missing", fullAnswers()); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitAfterDeadlineDiscardsAnswers(t *testing.T) {
	ctx := context.Background()
	limit := 1
	service, store, clock := newTestService(&limit)
	started := mustStart(t, service)

	clock.Advance(2 * time.Minute)

	_, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers())
	if !errors.Is(err, domain.ErrAttemptExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	attempt, err := store.GetByID(ctx, started.SubmissionID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Status != domain.StatusExpired {
		t.Fatalf("expected expired status, got %s", attempt.Status)
	}
	if len(attempt.Answers) != 0 || attempt.Score != 0 {
		t.Fatalf("late answers must be discarded, got %+v", attempt)
	}
	if attempt.TimeSpent != 120 {
		t.Fatalf("expected 120s time spent, got %d", attempt.TimeSpent)
	}

	// Resubmission reports already finalized, never a re-grade.
	if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers()); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

func TestSubmitLostRaceToSweeper(t *testing.T) {
	ctx := context.Background()
	limit := 1
	service, store, clock := newTestService(&limit)
	started := mustStart(t, service)
	clock.Advance(2 * time.Minute)

	// The sweeper wins first.
	sweeper := app.NewSweeper(store, memory.NewSweepLock(), time.Minute).WithClock(clock.Now)
	if n, err := sweeper.SweepOnce(ctx); err != nil || n != 1 {
		t.Fatalf("expected sweep to expire 1 attempt, got %d err=%v", n, err)
	}

	if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers()); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized after losing race, got %v", err)
	}
}

func TestRaceConvergence(t *testing.T) {
	ctx := context.Background()
	limit := 1

	// Whatever order submit, sweep and the lazy read run in, the attempt ends
	// expired exactly once.
	paths := []string{"sweep", "submit", "read"}
	for _, first := range paths {
		t.Run("first="+first, func(t *testing.T) {
			service, store, clock := newTestService(&limit)
			started := mustStart(t, service)
			clock.Advance(2 * time.Minute)
			sweeper := app.NewSweeper(store, memory.NewSweepLock(), time.Minute).WithClock(clock.Now)

			run := map[string]func(){
				"sweep": func() {
					if _, err := sweeper.SweepOnce(ctx); err != nil {
						t.Fatalf("sweep: %v", err)
					}
				},
				"submit": func() {
					_, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers())
					if !errors.Is(err, domain.ErrAttemptExpired) && !errors.Is(err, domain.ErrAlreadyFinalized) {
						t.Fatalf("submit on overdue attempt: %v", err)
					}
				},
				"read": func() {
					active, err := service.GetActiveAttempt(ctx, "u1", "lesson-quiz")
					if err != nil {
						t.Fatalf("get active: %v", err)
					}
					if active != nil {
						t.Fatalf("overdue attempt must not be reported active")
					}
				},
			}

			run[first]()
			for _, p := range paths {
				if p != first {
					run[p]()
				}
			}

			attempt, err := store.GetByID(ctx, started.SubmissionID)
			if err != nil {
				t.Fatalf("get attempt: %v", err)
			}
			if attempt.Status != domain.StatusExpired {
				t.Fatalf("expected expired, got %s", attempt.Status)
			}
			if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers()); !errors.Is(err, domain.ErrAlreadyFinalized) {
				t.Fatalf("expected already finalized, got %v", err)
			}
		})
	}
}

func TestPassingScoreSnapshotIndependentOfEdits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAttemptStore()
	catalog := &mutableCatalog{def: domain.QuizDefinition{
		PassingScore: 70,
		Questions: []domain.QuestionDefinition{
			{ID: "q1", Type: domain.QuestionText, CorrectAnswer: "Paris", Points: 10},
			{ID: "q2", Type: domain.QuestionText, CorrectAnswer: "Rome", Points: 10},
			{ID: "q3", Type: domain.QuestionText, CorrectAnswer: "Oslo", Points: 10},
		},
	}}
	clock := &fakeClock{now: time.Date(2025, 1, 14, 9, 0, 0, 0, time.UTC)}
	service := app.NewAttemptService(store, catalog).WithClock(clock.Now)

	started, err := service.StartAttempt(ctx, "u1", "course-1", "lesson-quiz")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The definition is edited mid-attempt; the snapshot governs.
	catalog.def.PassingScore = 10

	result, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, []domain.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris"},
		{QuestionID: "q2", Answer: "Rome"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 67 {
		t.Fatalf("expected score 67, got %d", result.Score)
	}
	if result.Passed {
		t.Fatalf("pass must use the snapshotted threshold of 70")
	}
}

type mutableCatalog struct {
	def domain.QuizDefinition
}

func (c *mutableCatalog) GetDefinition(context.Context, string, string) (domain.QuizDefinition, error) {
	return c.def, nil
}

func TestGetActiveAttemptLazyExpiry(t *testing.T) {
	ctx := context.Background()
	limit := 1
	service, store, clock := newTestService(&limit)
	started := mustStart(t, service)

	active, err := service.GetActiveAttempt(ctx, "u1", "lesson-quiz")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.TimeRemaining == nil || *active.TimeRemaining != 60 {
		t.Fatalf("expected active attempt with 60s remaining, got %+v", active)
	}

	clock.Advance(2 * time.Minute)
	active, err = service.GetActiveAttempt(ctx, "u1", "lesson-quiz")
	if err != nil {
		t.Fatalf("get active after deadline: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active attempt after lazy expiry, got %+v", active)
	}

	attempt, _ := store.GetByID(ctx, started.SubmissionID)
	if attempt.Status != domain.StatusExpired {
		t.Fatalf("lazy read must finalize the row, got %s", attempt.Status)
	}
}

func TestUnlimitedAttemptNeverExpires(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newTestService(nil)
	_ = mustStart(t, service)

	clock.Advance(1000 * time.Hour)
	active, err := service.GetActiveAttempt(ctx, "u1", "lesson-quiz")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil {
		t.Fatalf("unlimited attempt must stay active")
	}
	if active.TimeRemaining != nil {
		t.Fatalf("unlimited attempt has nil remaining, got %v", *active.TimeRemaining)
	}
}

func TestGetResults(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)
	started := mustStart(t, service)

	if _, err := service.GetResults(ctx, "u1", started.SubmissionID); !errors.Is(err, domain.ErrAttemptInProgress) {
		t.Fatalf("results must stay sealed while in progress, got %v", err)
	}

	submitted, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	first, err := service.GetResults(ctx, "u1", started.SubmissionID)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	second, err := service.GetResults(ctx, "u1", started.SubmissionID)
	if err != nil {
		t.Fatalf("get results again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results must be idempotent:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(submitted, first) {
		t.Fatalf("results must match the submit response:\n%+v\n%+v", submitted, first)
	}

	if _, err := service.GetResults(ctx, "intruder", started.SubmissionID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGetResultsLazyExpiry(t *testing.T) {
	ctx := context.Background()
	limit := 1
	service, _, clock := newTestService(&limit)
	started := mustStart(t, service)
	clock.Advance(2 * time.Minute)

	result, err := service.GetResults(ctx, "u1", started.SubmissionID)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if result.Status != domain.StatusExpired {
		t.Fatalf("expected expired result, got %s", result.Status)
	}
	if len(result.Results) != 0 || result.Score != 0 {
		t.Fatalf("expired attempt has no graded answers, got %+v", result)
	}
}

func TestGetAttemptHistoryOrder(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)

	for i := 0; i < 3; i++ {
		started := mustStart(t, service)
		if _, err := service.SubmitAttempt(ctx, "u1", started.SubmissionID, fullAnswers()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	history, err := service.GetAttemptHistory(ctx, "u1", "lesson-quiz")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(history))
	}
	for i, summary := range history {
		if summary.AttemptNumber != 3-i {
			t.Fatalf("history must be attempt number descending, got %+v", history)
		}
		if summary.Status != domain.StatusGraded {
			t.Fatalf("expected graded summary, got %+v", summary)
		}
	}
}

func TestGetQuizViewStripsAnswers(t *testing.T) {
	ctx := context.Background()
	limit := 5
	service, _, _ := newTestService(&limit)
	started := mustStart(t, service)

	view, err := service.GetQuizView(ctx, "u1", "course-1", "lesson-quiz")
	if err != nil {
		t.Fatalf("quiz view: %v", err)
	}
	if len(view.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(view.Questions))
	}
	if view.Active == nil || view.Active.SubmissionID != started.SubmissionID {
		t.Fatalf("expected active submission in view, got %+v", view.Active)
	}
	if view.Active.TimeRemaining == nil || *view.Active.TimeRemaining != 300 {
		t.Fatalf("expected 300s remaining, got %v", view.Active.TimeRemaining)
	}
	if view.PassingScore != 70 || view.TimeLimit == nil || *view.TimeLimit != 5 {
		t.Fatalf("unexpected metadata: %+v", view)
	}
}

func TestGetQuizViewHistorySummary(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(nil)

	first := mustStart(t, service)
	if _, err := service.SubmitAttempt(ctx, "u1", first.SubmissionID, []domain.AnswerSubmission{
		{QuestionID: "q1", Answer: "Paris"},
	}); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second := mustStart(t, service)
	if _, err := service.SubmitAttempt(ctx, "u1", second.SubmissionID, fullAnswers()); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	view, err := service.GetQuizView(ctx, "u1", "course-1", "lesson-quiz")
	if err != nil {
		t.Fatalf("quiz view: %v", err)
	}
	if view.AttemptsUsed != 2 {
		t.Fatalf("expected 2 attempts used, got %d", view.AttemptsUsed)
	}
	if view.BestScore != 100 {
		t.Fatalf("best score tracks the highest graded attempt, got %d", view.BestScore)
	}
}

func TestAttemptTimer(t *testing.T) {
	ctx := context.Background()
	limit := 1
	service, _, clock := newTestService(&limit)
	started := mustStart(t, service)

	status, remaining, err := service.AttemptTimer(ctx, "u1", started.SubmissionID)
	if err != nil || status != domain.StatusInProgress {
		t.Fatalf("expected in progress, got %s err=%v", status, err)
	}
	if remaining == nil || *remaining != 60 {
		t.Fatalf("expected 60s, got %v", remaining)
	}

	clock.Advance(2 * time.Minute)
	status, _, err = service.AttemptTimer(ctx, "u1", started.SubmissionID)
	if err != nil || status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s err=%v", status, err)
	}
}
