// Package expiry evaluates time-based validity for API keys and trial
// licenses. All functions take the current time explicitly; callers obtain it
// from a Clock so tests can pin it.
package expiry

import (
	"math"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// SystemClock returns the wall-clock time in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// IsExpired reports whether a credential with the given expiry is no longer
// valid at now. A nil expiry never expires. The boundary instant itself
// counts as expired.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !now.UTC().Before(expiresAt.UTC())
}

// DaysRemaining returns the number of whole or partial days left until
// expiresAt, rounded up, and 0 once expired. A nil expiry returns -1.
func DaysRemaining(expiresAt *time.Time, now time.Time) int {
	if expiresAt == nil {
		return -1
	}
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// After returns a pointer to now+ttl in UTC, or nil when ttl is not positive.
// It is the constructor used for optional expiry fields.
func After(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.UTC().Add(ttl)
	return &t
}
