package memory

import (
	"context"
	"sync"
)

// SweepLock is an in-process implementation of app.RunLock for single-instance
// deployments and tests.
type SweepLock struct {
	mu sync.Mutex
}

func NewSweepLock() *SweepLock {
	return &SweepLock{}
}

func (l *SweepLock) TryLock(_ context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
