package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
)

// QuizCatalog resolves lesson quiz definitions, falling back to a loader on a
// cache miss. Definitions are stored as:
//
//	SET quiz:def:{courseID}:{lessonID} {json}
//
// A lesson known to be non-quiz is cached as a tombstone so repeated views of a
// video lesson do not keep hitting the backing store.
type QuizCatalog struct {
	client *redis.Client
	loader CourseLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

// CourseLoader fetches course documents from the backing store.
type CourseLoader interface {
	LoadCourse(ctx context.Context, courseID string) (domain.Course, error)
}

const notAQuizTombstone = `{"notAQuiz":true}`

func NewQuizCatalog(client *redis.Client, loader CourseLoader, ttl time.Duration) *QuizCatalog {
	return &QuizCatalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCatalog) GetDefinition(ctx context.Context, courseID, lessonID string) (domain.QuizDefinition, error) {
	key := c.defKey(courseID, lessonID)

	if cached, err := c.client.Get(ctx, key).Result(); err == nil {
		return decodeCached(cached)
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, err := c.client.Get(ctx, key).Result(); err == nil {
			def, err := decodeCached(cached)
			if err != nil {
				return nil, err
			}
			return def, nil
		}

		course, err := c.loader.LoadCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		ref, ok := course.LessonIndex()[lessonID]
		if !ok {
			return nil, domain.ErrLessonNotFound
		}
		if ref.Lesson.Type != "quiz" || ref.Lesson.Quiz == nil {
			_ = c.client.Set(ctx, key, notAQuizTombstone, c.ttlWithJitter()).Err()
			return nil, domain.ErrNotAQuiz
		}

		def := ref.Lesson.Quiz.Normalized()
		if data, err := json.Marshal(def); err == nil {
			_ = c.client.Set(ctx, key, string(data), c.ttlWithJitter()).Err()
		}
		return def, nil
	})
	if err != nil {
		return domain.QuizDefinition{}, err
	}
	return result.(domain.QuizDefinition), nil
}

func decodeCached(raw string) (domain.QuizDefinition, error) {
	if raw == notAQuizTombstone {
		return domain.QuizDefinition{}, domain.ErrNotAQuiz
	}
	var def domain.QuizDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return domain.QuizDefinition{}, err
	}
	return def, nil
}

func (c *QuizCatalog) defKey(courseID, lessonID string) string {
	return "quiz:def:" + courseID + ":" + lessonID
}

func (c *QuizCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
