package chat

import (
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiters hands out one token bucket per chat session.
type sessionLimiters struct {
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newSessionLimiters(perSecond float64, burst int) *sessionLimiters {
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether sessionID may start another answer now.
func (s *sessionLimiters) Allow(sessionID string) bool {
	return s.get(sessionID).Allow()
}

func (s *sessionLimiters) get(sessionID string) *rate.Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[sessionID]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if limiter, ok = s.limiters[sessionID]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(s.limit, s.burst)
	s.limiters[sessionID] = limiter
	return limiter
}
