package poll

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSourceRate allows one fetch per 10 seconds per source with a
// small burst, which is plenty for poll cadences and protects upstream
// APIs when many jobs share a source.
var DefaultSourceRate = rate.Every(10 * time.Second)

// SourceLimiter applies a per-source token bucket to fetches.
type SourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewSourceLimiter creates a limiter. A zero limit selects
// DefaultSourceRate; a non-positive burst selects 3.
func NewSourceLimiter(limit rate.Limit, burst int) *SourceLimiter {
	if limit == 0 {
		limit = DefaultSourceRate
	}
	if burst <= 0 {
		burst = 3
	}
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until the source may fetch again or the context is done.
func (s *SourceLimiter) Wait(ctx context.Context, source string) error {
	return s.limiter(source).Wait(ctx)
}

// Allow reports whether a fetch may proceed right now without blocking.
func (s *SourceLimiter) Allow(source string) bool {
	return s.limiter(source).Allow()
}

func (s *SourceLimiter) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = l
	}
	return l
}
