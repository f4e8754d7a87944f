package security

import (
	"strings"
	"sync"
	"time"
)

// RateStatus is the outcome of one rate limiter check.
type RateStatus struct {
	Allowed      bool      `json:"allowed"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	RetryAfterMs int64     `json:"retry_after_ms,omitempty"`
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per subject over a sliding window. Subject
// key is the user id, or user id + ":" + channel id in per-channel mode.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*rateBucket
	window     time.Duration
	maxReqs    int
	perChannel bool

	now func() time.Time // overridable in tests
}

// NewRateLimiter creates a limiter allowing maxReqs requests per window
// per subject.
func NewRateLimiter(window time.Duration, maxReqs int, perChannel bool) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*rateBucket),
		window:     window,
		maxReqs:    maxReqs,
		perChannel: perChannel,
		now:        time.Now,
	}
}

func (l *RateLimiter) key(userID, channelID string) string {
	if l.perChannel && channelID != "" {
		return userID + ":" + channelID
	}
	return userID
}

// Check counts one request against the subject's bucket. An expired bucket
// is replaced with a fresh window before the request is counted.
func (l *RateLimiter) Check(userID, channelID string) RateStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := l.key(userID, channelID)

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &rateBucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}

	if b.count >= l.maxReqs {
		return RateStatus{
			Allowed:      false,
			Remaining:    0,
			ResetAt:      b.resetAt,
			RetryAfterMs: b.resetAt.Sub(now).Milliseconds(),
		}
	}
	b.count++
	return RateStatus{
		Allowed:   true,
		Remaining: l.maxReqs - b.count,
		ResetAt:   b.resetAt,
	}
}

// Status reports the subject's bucket without counting a request.
func (l *RateLimiter) Status(userID, channelID string) RateStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[l.key(userID, channelID)]
	if !ok || !now.Before(b.resetAt) {
		return RateStatus{Allowed: true, Remaining: l.maxReqs, ResetAt: now.Add(l.window)}
	}
	st := RateStatus{
		Allowed:   b.count < l.maxReqs,
		Remaining: l.maxReqs - b.count,
		ResetAt:   b.resetAt,
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if !st.Allowed {
		st.RetryAfterMs = b.resetAt.Sub(now).Milliseconds()
	}
	return st
}

// Reset discards every bucket belonging to the user, including per-channel
// buckets.
func (l *RateLimiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.buckets {
		if key == userID || strings.HasPrefix(key, userID+":") {
			delete(l.buckets, key)
		}
	}
}
