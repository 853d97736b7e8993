package app

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// JoinLimiter caps room-join attempts per client over a sliding window.
type JoinLimiter struct {
	mu       sync.Mutex
	history  map[domain.ClientID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewJoinLimiter returns nil when limit is not positive; a nil limiter
// allows everything.
func NewJoinLimiter(limit int, interval time.Duration, now func() time.Time) *JoinLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &JoinLimiter{
		history:  make(map[domain.ClientID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      now,
	}
}

func (l *JoinLimiter) Allow(id domain.ClientID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.interval)

	attempts := l.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= l.limit {
		l.history[id] = fresh
		return false
	}
	l.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a client that went away.
func (l *JoinLimiter) Forget(id domain.ClientID) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.history, id)
	l.mu.Unlock()
}
