package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// CourseLoader loads course JSONB documents from Postgres. The course documents
// are owned by the external course collaborator; this service only reads them.
type CourseLoader struct {
	pool *pgxpool.Pool
}

func NewCourseLoader(pool *pgxpool.Pool) *CourseLoader {
	return &CourseLoader{pool: pool}
}

func (l *CourseLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM courses WHERE id=$1`, courseID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	if err != nil {
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}
	var course domain.Course
	if err := json.Unmarshal(raw, &course); err != nil {
		return domain.Course{}, fmt.Errorf("unmarshal course: %w", err)
	}
	course.ID = courseID
	return course, nil
}
