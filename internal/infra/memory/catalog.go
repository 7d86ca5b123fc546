package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
)

// CourseLoader fetches course documents from a backing store (e.g., document DB).
type CourseLoader interface {
	LoadCourse(ctx context.Context, courseID string) (domain.Course, error)
}

// Catalog caches per-course lesson indexes with TTL to avoid repeated loads and
// repeated module/lesson traversal. The index is built once per course load.
type Catalog struct {
	loader CourseLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedCourse
}

type cachedCourse struct {
	index     map[string]domain.LessonRef
	expiresAt time.Time
}

func NewCatalog(loader CourseLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedCourse),
	}
}

// GetDefinition resolves a lesson's quiz definition through the cached index,
// with defaults normalized.
func (c *Catalog) GetDefinition(ctx context.Context, courseID, lessonID string) (domain.QuizDefinition, error) {
	index, err := c.lessonIndex(ctx, courseID)
	if err != nil {
		return domain.QuizDefinition{}, err
	}
	ref, ok := index[lessonID]
	if !ok {
		return domain.QuizDefinition{}, domain.ErrLessonNotFound
	}
	if ref.Lesson.Type != "quiz" || ref.Lesson.Quiz == nil {
		return domain.QuizDefinition{}, domain.ErrNotAQuiz
	}
	return ref.Lesson.Quiz.Normalized(), nil
}

func (c *Catalog) lessonIndex(ctx context.Context, courseID string) (map[string]domain.LessonRef, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[courseID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.index, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(courseID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[courseID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.index, nil
		}
		c.mu.RUnlock()

		course, err := c.loader.LoadCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		index := course.LessonIndex()

		c.mu.Lock()
		c.cache[courseID] = cachedCourse{
			index:     index,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]domain.LessonRef), nil
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticCourseLoader is a simple loader backed by an in-memory map (useful for
// tests/demos).
type StaticCourseLoader struct {
	courses map[string]domain.Course
}

func NewStaticCourseLoader(courses map[string]domain.Course) *StaticCourseLoader {
	return &StaticCourseLoader{courses: courses}
}

func (l *StaticCourseLoader) LoadCourse(_ context.Context, courseID string) (domain.Course, error) {
	if course, ok := l.courses[courseID]; ok {
		return course, nil
	}
	return domain.Course{}, domain.ErrCourseNotFound
}
