package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter slows credential guessing. Each host may fail
// authRateMaxFails times; the allowance refills over authRateWindow.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostBudget
	now   func() time.Time
}

type hostBudget struct {
	lim  *rate.Limiter
	last time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{hosts: make(map[string]*hostBudget), now: time.Now}
}

// run prunes idle hosts every minute until ctx ends.
func (l *authRateLimiter) run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.prune()
		}
	}
}

// prune forgets hosts whose last failure is older than the window; their
// budget is full again.
func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-authRateWindow)
	for host, b := range l.hosts {
		if !b.last.After(cutoff) {
			delete(l.hosts, host)
		}
	}
}

// allow reports whether remoteAddr may attempt to authenticate.
func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[remoteHost(remoteAddr)]
	return !ok || b.lim.TokensAt(l.now()) >= 1
}

// recordFailure spends one attempt of remoteAddr's budget.
func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := remoteHost(remoteAddr)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authRateMaxIPs {
			l.evictOldestLocked()
		}
		b = &hostBudget{lim: rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails)}
		l.hosts[host] = b
	}
	b.lim.AllowN(now, 1)
	b.last = now
}

func (l *authRateLimiter) evictOldestLocked() {
	var oldest string
	for host, b := range l.hosts {
		if oldest == "" || b.last.Before(l.hosts[oldest].last) {
			oldest = host
		}
	}
	delete(l.hosts, oldest)
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
