// Package ratelimit provides the per-user token buckets guarding the LLM
// generate endpoint. Buckets refill continuously (greedy refill) and are
// created lazily, at most once per user.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Limiter struct {
	capacity float64
	window   time.Duration
	buckets  sync.Map // uuid.UUID -> *bucket
	now      func() time.Time
}

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	gone   bool // set by RemoveIdle; holders of a stale pointer must retry
}

// NewLimiter creates a limiter allowing capacity requests per window for
// each user. The limiter is process-wide; ownership belongs to the
// bootstrap, not a package singleton.
func NewLimiter(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: float64(capacity),
		window:   window,
		now:      time.Now,
	}
}

// TryConsume takes one token from the user's bucket. It never blocks: a
// depleted bucket reports failure immediately.
func (l *Limiter) TryConsume(userID uuid.UUID) bool {
	for {
		b := l.resolve(userID)
		b.mu.Lock()
		if b.gone {
			// The sweep removed this bucket after we resolved it;
			// resolve again so the consumed token is accounted.
			b.mu.Unlock()
			continue
		}
		l.refill(b)
		if b.tokens < 1 {
			b.mu.Unlock()
			return false
		}
		b.tokens--
		b.mu.Unlock()
		return true
	}
}

// Available reports the whole tokens currently left for the user.
func (l *Limiter) Available(userID uuid.UUID) int {
	for {
		b := l.resolve(userID)
		b.mu.Lock()
		if b.gone {
			b.mu.Unlock()
			continue
		}
		l.refill(b)
		tokens := int(b.tokens)
		b.mu.Unlock()
		return tokens
	}
}

// RemoveIdle drops buckets that have not been touched for at least maxIdle
// and returns how many were removed. Called by the maintenance sweep; an
// idle bucket is always full, so dropping it cannot grant extra requests.
// The check and the delete happen under the bucket lock so a concurrent
// consume cannot slip between them and lose its accounting.
func (l *Limiter) RemoveIdle(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if b.last.Before(cutoff) {
			b.gone = true
			l.buckets.Delete(key)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

func (l *Limiter) resolve(userID uuid.UUID) *bucket {
	if v, ok := l.buckets.Load(userID); ok {
		return v.(*bucket)
	}
	fresh := &bucket{tokens: l.capacity, last: l.now()}
	v, _ := l.buckets.LoadOrStore(userID, fresh)
	return v.(*bucket)
}

// refill credits tokens for the time elapsed since the last touch.
// Caller must hold b.mu.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += l.capacity * float64(elapsed) / float64(l.window)
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}
	b.last = now
}
