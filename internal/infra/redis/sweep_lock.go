package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepLock serializes sweep runs across service instances with a SET NX key.
// The TTL bounds how long a crashed holder can block the next run.
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SweepLock{
		client: client,
		key:    "quiz:sweep:lock",
		ttl:    ttl,
	}
}

func (l *SweepLock) TryLock(ctx context.Context) (func(), bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	release := func() {
		// best-effort; TTL covers a lost release
		_ = l.client.Del(context.Background(), l.key).Err()
	}
	return release, true, nil
}
