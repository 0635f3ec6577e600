package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry
	// checks. It prevents false expiration errors due to time
	// synchronization drift between the issuing and the checking host.
	// 5 seconds covers typical NTP drift.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks whether an expiry instant has passed, with the default
// clock skew grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether an expiry instant has passed,
// with a custom clock skew grace period. A zero instant never expires.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}
