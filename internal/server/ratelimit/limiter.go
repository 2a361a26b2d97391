// Package ratelimit throttles unauthenticated endpoints per client IP with
// token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a full bucket may sit unused before it is dropped.
const idleAfter = 10 * time.Minute

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int // requests per window
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows requests per window for each key, with at most burst
// requests at once. Call Close to stop the idle bucket sweeper.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   burst,
		window:  window,
		buckets: map[string]*bucket{},
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow consumes one token from key's bucket if one is available.
func (l *Limiter) Allow(key string) Result {
	now := time.Now()
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	allowed := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	res := Result{
		Allowed:   allowed,
		Limit:     int(float64(l.limit) * l.window.Seconds()),
		Remaining: max(int(tokens), 0),
		ResetAt:   now.Add(time.Duration((float64(l.burst) - tokens) / float64(l.limit) * float64(time.Second))),
	}
	if !allowed {
		res.RetryAfter = max(time.Duration(float64(time.Second)/float64(l.limit)), time.Second)
	}
	return res
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the sweeper. It is safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweep() {
	t := time.NewTicker(idleAfter)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			l.evict(now)
		case <-l.stop:
			return
		}
	}
}

// evict drops buckets that are full and were not used for idleAfter.
func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= idleAfter && b.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, k)
		}
	}
}
