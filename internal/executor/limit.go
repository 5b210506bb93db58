package executor

import (
	"sync"
	"time"

	"github.com/juju/ratelimit"

	"github.com/sakif/codeflow/internal/apperror"
)

const (
	DefaultPerMinute = 10
	DefaultPerHour   = 50
)

// Limiter hands out execution slots per user. Each user gets a minute bucket
// and an hour bucket; a run needs a token from both. Buckets that have
// refilled completely carry no state and are dropped by Prune.
type Limiter struct {
	perMinute int64
	perHour   int64
	clock     ratelimit.Clock // nil means the real clock

	mu      sync.Mutex
	buckets map[string]*userBuckets
}

type userBuckets struct {
	minute *ratelimit.Bucket
	hour   *ratelimit.Bucket
}

// NewLimiter returns a Limiter. Non-positive values fall back to the
// defaults.
func NewLimiter(perMinute, perHour int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	return &Limiter{
		perMinute: int64(perMinute),
		perHour:   int64(perHour),
		buckets:   make(map[string]*userBuckets),
	}
}

// NewLimiterWithClock is NewLimiter with buckets refilled by clock.
func NewLimiterWithClock(perMinute, perHour int, clock ratelimit.Clock) *Limiter {
	l := NewLimiter(perMinute, perHour)
	l.clock = clock
	return l
}

// Allow takes one slot for userID or returns a RateLimited error. The
// check and the take happen under one lock, so concurrent runs cannot
// overshoot either cap.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = &userBuckets{
			minute: ratelimit.NewBucketWithQuantumAndClock(time.Minute, l.perMinute, l.perMinute, l.clock),
			hour:   ratelimit.NewBucketWithQuantumAndClock(time.Hour, l.perHour, l.perHour, l.clock),
		}
		l.buckets[userID] = b
	}

	// Check the hour bucket first so a rejected run never burns a minute token.
	if b.hour.Available() <= 0 {
		return apperror.RateLimited("hourly execution limit reached, try again later")
	}
	if b.minute.TakeAvailable(1) == 0 {
		return apperror.RateLimited("too many executions, wait a minute")
	}
	b.hour.TakeAvailable(1)
	return nil
}

// Prune drops users whose buckets are full again and reports how many it
// removed. A dropped user starts from fresh buckets, which is the state
// they were in anyway.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, b := range l.buckets {
		if b.minute.Available() >= l.perMinute && b.hour.Available() >= l.perHour {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

// Len reports how many users currently hold bucket state.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
