package security

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RegistrationLimiter rate-limits administrative client registration using
// a token bucket per registrant identifier. Entries are capped to prevent
// unbounded memory growth when identifiers are attacker-controlled.
type RegistrationLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	rate       rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger
}

// NewRegistrationLimiter creates a limiter allowing requestsPerSecond
// sustained registrations with the given burst, per identifier. At most
// 10000 identifiers are tracked; beyond that the map is reset, which is
// acceptable for an administrative path.
func NewRegistrationLimiter(requestsPerSecond float64, burst int, logger *slog.Logger) *RegistrationLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationLimiter{
		limiters:   make(map[string]*rate.Limiter),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		maxEntries: 10000,
		logger:     logger,
	}
}

// Allow reports whether a registration from the given identifier may
// proceed now.
func (rl *RegistrationLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.logger.Warn("Registration limiter entry cap reached, resetting",
				"entries", len(rl.limiters))
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}

	allowed := limiter.Allow()
	if !allowed {
		rl.logger.Warn("Registration rate limit exceeded", "identifier", identifier)
	}
	return allowed
}
