package domain

import "errors"

var (
	// ErrCourseNotFound is returned when the course document cannot be loaded.
	ErrCourseNotFound = errors.New("course not found")
	// ErrLessonNotFound is returned when the lesson id is not in the course.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrNotAQuiz is returned when the lesson exists but carries no quiz.
	ErrNotAQuiz = errors.New("lesson is not a quiz")
	// ErrAttemptNotFound is returned when a submission id resolves to nothing.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrForbidden is returned when a submission is not owned by the caller.
	ErrForbidden = errors.New("attempt not owned by caller")
	// ErrAlreadyFinalized is returned on submit against a non-in-progress attempt.
	ErrAlreadyFinalized = errors.New("attempt already finalized")
	// ErrAttemptExpired signals the time limit passed; the attempt was finalized
	// as expired and the submitted answers were discarded.
	ErrAttemptExpired = errors.New("time limit exceeded, attempt finalized")
	// ErrAttemptInProgress is returned when results are requested for an attempt
	// that has not been finalized yet.
	ErrAttemptInProgress = errors.New("attempt still in progress")
	// ErrInvalidSubmission is returned for a malformed answers payload.
	ErrInvalidSubmission = errors.New("invalid answers payload")
	// ErrAttemptConflict is returned when two concurrent starts race on the same
	// attempt number; the caller should retry the start.
	ErrAttemptConflict = errors.New("attempt number conflict")
)
