package domain

import "time"

// AttemptStatus is the lifecycle state of a quiz attempt. Transitions only ever
// leave StatusInProgress; graded and expired are terminal.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusGraded     AttemptStatus = "graded"
	StatusExpired    AttemptStatus = "expired"
)

// Question types supported by the grading engine.
const (
	QuestionMultipleChoice = "multiple-choice"
	QuestionTrueFalse      = "true-false"
	QuestionText           = "text"
)

// DefaultPassingScore applies when a quiz definition carries no threshold.
const DefaultPassingScore = 70

// DefaultQuestionPoints applies when a question carries no point value.
const DefaultQuestionPoints = 10

// QuestionDefinition is a single question inside a quiz definition. CorrectAnswer
// is heterogeneous: a string, a []string for multi-select, or a bool (possibly
// stringified) for true/false questions.
type QuestionDefinition struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer any      `json:"correctAnswer"`
	Points        int      `json:"points"`
	Explanation   string   `json:"explanation,omitempty"`
}

// QuizDefinition is the question set attached to a lesson, owned by the external
// course collaborator and read-only here.
type QuizDefinition struct {
	Questions    []QuestionDefinition `json:"questions"`
	TimeLimit    *int                 `json:"timeLimit,omitempty"` // minutes
	PassingScore int                  `json:"passingScore"`
}

// Normalized returns a copy with default points and passing score filled in.
func (q QuizDefinition) Normalized() QuizDefinition {
	out := q
	if out.PassingScore == 0 {
		out.PassingScore = DefaultPassingScore
	}
	out.Questions = make([]QuestionDefinition, len(q.Questions))
	copy(out.Questions, q.Questions)
	for i := range out.Questions {
		if out.Questions[i].Points == 0 {
			out.Questions[i].Points = DefaultQuestionPoints
		}
	}
	return out
}

// Lesson is one entry in a course module. Only lessons of type "quiz" carry a
// quiz definition.
type Lesson struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Type  string          `json:"type"`
	Quiz  *QuizDefinition `json:"quiz,omitempty"`
}

// Module groups lessons inside a course.
type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Course is the external collaborator's course document.
type Course struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Modules []Module `json:"modules"`
}

// LessonRef locates a lesson inside a course without re-walking the module tree.
type LessonRef struct {
	CourseID string
	ModuleID string
	Lesson   Lesson
}

// LessonIndex precomputes lessonID -> lesson for a course so per-request lookups
// do not traverse modules x lessons.
func (c Course) LessonIndex() map[string]LessonRef {
	index := make(map[string]LessonRef, len(c.Modules))
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			index[l.ID] = LessonRef{CourseID: c.ID, ModuleID: m.ID, Lesson: l}
		}
	}
	return index
}

// AnswerRecord is one graded answer inside an attempt.
type AnswerRecord struct {
	QuestionID     string `json:"questionId"`
	Answer         any    `json:"answer"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsEarned   int    `json:"pointsEarned"`
	PointsPossible int    `json:"pointsPossible"`
}

// AnswerSubmission is the raw answer payload from a client.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

// Attempt is one learner's timed pass through a quiz lesson. TimeLimit and
// PassingScore are snapshotted from the definition at start and never re-read.
type Attempt struct {
	ID            string         `json:"id"`
	CourseID      string         `json:"courseId"`
	LessonID      string         `json:"lessonId"`
	UserID        string         `json:"userId"`
	AttemptNumber int            `json:"attemptNumber"`
	Status        AttemptStatus  `json:"status"`
	StartedAt     time.Time      `json:"startedAt"`
	SubmittedAt   *time.Time     `json:"submittedAt,omitempty"`
	TimeSpent     int            `json:"timeSpent"` // seconds
	TimeLimit     *int           `json:"timeLimit,omitempty"`
	PassingScore  int            `json:"passingScore"`
	Answers       []AnswerRecord `json:"answers,omitempty"`
	TotalPoints   int            `json:"totalPoints"`
	MaxPoints     int            `json:"maxPoints"`
	Score         int            `json:"score"`
	Passed        bool           `json:"passed"`
}

// Finalization carries the fields written by the single conditional status
// transition out of in_progress. Scores are always recomputed server-side.
type Finalization struct {
	Status      AttemptStatus
	SubmittedAt time.Time
	TimeSpent   int
	Answers     []AnswerRecord
	TotalPoints int
	MaxPoints   int
	Score       int
	Passed      bool
}

// QuestionView is a question with the correct answer and explanation stripped,
// safe to show during an active attempt.
type QuestionView struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Points   int      `json:"points"`
}

// ActiveAttemptView describes the caller's running attempt, if any.
type ActiveAttemptView struct {
	SubmissionID  string `json:"submissionId"`
	AttemptNumber int    `json:"attemptNumber"`
	TimeRemaining *int   `json:"timeRemaining,omitempty"` // seconds, nil when unlimited
}

// AttemptSummary is the history row for one finished or running attempt.
type AttemptSummary struct {
	AttemptNumber int           `json:"attemptNumber"`
	Score         int           `json:"score"`
	Passed        bool          `json:"passed"`
	Status        AttemptStatus `json:"status"`
	SubmittedAt   *time.Time    `json:"submittedAt,omitempty"`
}

// QuizView is the learner-facing quiz page payload. BestScore and AttemptsUsed
// summarize the history so clients need not recompute them.
type QuizView struct {
	CourseID         string             `json:"courseId"`
	LessonID         string             `json:"lessonId"`
	Questions        []QuestionView     `json:"questions"`
	TimeLimit        *int               `json:"timeLimit,omitempty"`
	PassingScore     int                `json:"passingScore"`
	BestScore        int                `json:"bestScore"`
	AttemptsUsed     int                `json:"attemptsUsed"`
	PreviousAttempts []AttemptSummary   `json:"previousAttempts"`
	Active           *ActiveAttemptView `json:"activeSubmission,omitempty"`
}

// QuestionResult is one graded answer enriched with the correct answer and
// explanation, revealed only once an attempt is finalized.
type QuestionResult struct {
	QuestionID     string `json:"questionId"`
	Question       string `json:"question,omitempty"`
	Answer         any    `json:"answer"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsEarned   int    `json:"pointsEarned"`
	PointsPossible int    `json:"pointsPossible"`
	CorrectAnswer  any    `json:"correctAnswer,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}

// AttemptResult is the payload returned by submit and results reads.
type AttemptResult struct {
	SubmissionID  string           `json:"submissionId"`
	AttemptNumber int              `json:"attemptNumber"`
	Status        AttemptStatus    `json:"status"`
	Score         int              `json:"score"`
	TotalPoints   int              `json:"totalPoints"`
	MaxPoints     int              `json:"maxPoints"`
	Passed        bool             `json:"passed"`
	TimeSpent     int              `json:"timeSpent"`
	SubmittedAt   *time.Time       `json:"submittedAt,omitempty"`
	Results       []QuestionResult `json:"results"`
}

// StartedAttempt is the payload returned by StartAttempt.
type StartedAttempt struct {
	SubmissionID  string    `json:"submissionId"`
	AttemptNumber int       `json:"attemptNumber"`
	StartedAt     time.Time `json:"startedAt"`
	TimeLimit     *int      `json:"timeLimit,omitempty"`
}
