package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleVisitor = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// chatLimiter gives every chat its own token bucket of perMinute messages.
// Idle chats are pruned on the next call after a minute has passed.
type chatLimiter struct {
	perMinute int
	now       func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newChatLimiter(perMinute int, now func() time.Time) *chatLimiter {
	return &chatLimiter{perMinute: perMinute, now: now, visitors: map[string]*visitor{}}
}

func (l *chatLimiter) Allow(chatID string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > time.Minute {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > idleVisitor {
				delete(l.visitors, id)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[chatID]
	if !ok {
		every := time.Minute / time.Duration(l.perMinute)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), l.perMinute)}
		l.visitors[chatID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
