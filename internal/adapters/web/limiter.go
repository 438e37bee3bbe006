package web

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterTTL = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// senderLimiter is a token bucket per sender id with idle eviction.
type senderLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	senders map[string]*limiterEntry
}

// newSenderLimiter returns nil when perSecond is not positive, which allows everything.
func newSenderLimiter(perSecond float64, burst int) *senderLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &senderLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		senders:   make(map[string]*limiterEntry),
	}
}

func (l *senderLimiter) allow(sender string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.senders[sender]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.senders[sender] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *senderLimiter) purge(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sender, e := range l.senders {
		if now.Sub(e.lastSeen) > limiterTTL {
			delete(l.senders, sender)
		}
	}
}

// startPurge evicts idle senders every minute until ctx is done.
func (l *senderLimiter) startPurge(ctx context.Context) {
	if l == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.purge(now)
			}
		}
	}()
}
