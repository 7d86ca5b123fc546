package domain

import (
	"math"
	"time"
)

// IsExpired reports whether the attempt's time limit has passed at the given
// instant. Attempts without a time limit never expire. Every caller (submit,
// reads, the background sweep) must evaluate expiry through this function so the
// two enforcement paths cannot disagree.
func IsExpired(a Attempt, now time.Time) bool {
	if a.TimeLimit == nil {
		return false
	}
	elapsed := now.Sub(a.StartedAt).Minutes()
	return elapsed > float64(*a.TimeLimit)
}

// RemainingSeconds returns the seconds left on the attempt's clock, floored and
// never negative, or nil when the attempt is unlimited.
func RemainingSeconds(a Attempt, now time.Time) *int {
	if a.TimeLimit == nil {
		return nil
	}
	elapsed := now.Sub(a.StartedAt).Minutes()
	remaining := int(math.Floor((float64(*a.TimeLimit) - elapsed) * 60))
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// ElapsedSeconds is the whole seconds spent on the attempt so far.
func ElapsedSeconds(a Attempt, now time.Time) int {
	elapsed := int(now.Sub(a.StartedAt).Seconds())
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
