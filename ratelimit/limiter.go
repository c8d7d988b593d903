// Package ratelimit implements a process-local fixed-window rate limiter
// keyed by (client, action). Counters are sharded so unrelated keys never
// contend on the same lock, and every critical section is O(1).
package ratelimit

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// ErrThrottled is the sentinel all throttling failures unwrap to.
var ErrThrottled = errors.New("rate limit exceeded")

// ThrottledError reports how long the caller must wait before the next
// attempt can succeed. It unwraps to [ErrThrottled].
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds())
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// RetryAfterSeconds rounds the wait up to whole seconds for transport
// layers that emit a Retry-After header.
func (e *ThrottledError) RetryAfterSeconds() int64 {
	return int64(math.Ceil(e.RetryAfter.Seconds()))
}

// Limit caps requests per key at Max within each fixed Window.
type Limit struct {
	Max    int
	Window time.Duration
}

const (
	shardCount = 32
	// purgeBudget bounds how many expired entries one Check call may
	// evict from its shard. Cleanup is opportunistic; expiry is always
	// checked on read, so stale entries can never extend a window.
	purgeBudget = 4
)

type window struct {
	count int
	reset time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]window
}

// Limiter tracks fixed windows per (client, action) key. Actions without
// a configured limit are always allowed.
type Limiter struct {
	limits map[string]Limit
	shards [shardCount]*shard
	now    func() time.Time
}

// New builds a Limiter from a per-action limit table. Actions whose Max
// is zero or negative are dropped from the table (unlimited).
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limits: make(map[string]Limit, len(limits)),
		now:    time.Now,
	}
	for action, limit := range limits {
		if limit.Max > 0 && limit.Window > 0 {
			l.limits[action] = limit
		}
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]window)}
	}
	return l
}

// Check records one hit for (clientKey, action) and reports whether it is
// within the window budget. The first hit past the budget returns a
// *ThrottledError carrying the remaining window time.
func (l *Limiter) Check(clientKey, action string) error {
	limit, ok := l.limits[action]
	if !ok {
		return nil
	}

	key := clientKey + "\x00" + action
	s := l.shards[shardIndex(key)]
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists || !now.Before(w.reset) {
		// Lazy window reset: a hit after expiry starts a fresh window.
		s.windows[key] = window{count: 1, reset: now.Add(limit.Window)}
		s.purgeLocked(now, key)
		return nil
	}

	w.count++
	s.windows[key] = w
	if w.count > limit.Max {
		return &ThrottledError{RetryAfter: w.reset.Sub(now)}
	}
	return nil
}

// Reset clears the window for (clientKey, action).
func (l *Limiter) Reset(clientKey, action string) {
	key := clientKey + "\x00" + action
	s := l.shards[shardIndex(key)]

	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
}

// purgeLocked evicts up to purgeBudget expired entries from the shard.
// Map iteration order makes the choice of victims arbitrary, which is
// fine: this only bounds memory, correctness comes from the expiry check
// in Check.
func (s *shard) purgeLocked(now time.Time, skip string) {
	scanned := 0
	for key, w := range s.windows {
		if scanned >= purgeBudget {
			return
		}
		scanned++
		if key != skip && !now.Before(w.reset) {
			delete(s.windows, key)
		}
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
