package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

const uniqueViolation = "23505"

// AttemptStore persists attempts in Postgres. The (user_id, lesson_id,
// attempt_number) unique constraint turns a concurrent double-start into a
// detectable conflict, and ConditionalFinalize is a guarded UPDATE so only one
// finalizer ever wins.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, course_id, lesson_id, user_id, attempt_number, status,
	started_at, submitted_at, time_spent, time_limit, passing_score, answers,
	total_points, max_points, score, passed`

func (s *AttemptStore) CountAttempts(ctx context.Context, userID, lessonID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id=$1 AND lesson_id=$2`,
		userID, lessonID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

func (s *AttemptStore) Insert(ctx context.Context, a domain.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempts (`+attemptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.CourseID, a.LessonID, a.UserID, a.AttemptNumber, string(a.Status),
		a.StartedAt, a.SubmittedAt, a.TimeSpent, a.TimeLimit, a.PassingScore, answers,
		a.TotalPoints, a.MaxPoints, a.Score, a.Passed)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAttemptConflict
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) GetByID(ctx context.Context, id string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, id)
	return scanAttempt(row)
}

func (s *AttemptStore) GetActive(ctx context.Context, userID, lessonID string) (domain.Attempt, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1 AND lesson_id=$2 AND status=$3`,
		userID, lessonID, string(domain.StatusInProgress))
	attempt, err := scanAttempt(row)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, true, nil
}

func (s *AttemptStore) GetAll(ctx context.Context, userID, lessonID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1 AND lesson_id=$2
		ORDER BY attempt_number DESC`,
		userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *AttemptStore) ConditionalFinalize(ctx context.Context, id string, fin domain.Finalization) (bool, error) {
	answers, err := json.Marshal(fin.Answers)
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts
		SET status=$2, submitted_at=$3, time_spent=$4, answers=$5,
			total_points=$6, max_points=$7, score=$8, passed=$9
		WHERE id=$1 AND status=$10`,
		id, string(fin.Status), fin.SubmittedAt, fin.TimeSpent, answers,
		fin.TotalPoints, fin.MaxPoints, fin.Score, fin.Passed,
		string(domain.StatusInProgress))
	if err != nil {
		return false, fmt.Errorf("finalize attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AttemptStore) ListOverdue(ctx context.Context) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE status=$1 AND time_limit IS NOT NULL AND started_at IS NOT NULL`,
		string(domain.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("list overdue attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (domain.Attempt, error) {
	var (
		a       domain.Attempt
		status  string
		answers []byte
	)
	err := row.Scan(&a.ID, &a.CourseID, &a.LessonID, &a.UserID, &a.AttemptNumber,
		&status, &a.StartedAt, &a.SubmittedAt, &a.TimeSpent, &a.TimeLimit,
		&a.PassingScore, &answers, &a.TotalPoints, &a.MaxPoints, &a.Score, &a.Passed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.Answers); err != nil {
			return domain.Attempt{}, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return a, nil
}

func scanAttempts(rows pgx.Rows) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}
