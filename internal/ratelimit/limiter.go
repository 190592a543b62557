// Package ratelimit caps how many messages a participant may send per window.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter implements fixed-window per-participant rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup prevents memory leaks
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// New creates a limiter allowing limit sends per window.
// Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a send for participantID and reports whether it is within the limit
func (l *Limiter) Allow(participantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[participantID]
	if !ok || now.Sub(w.windowStart) >= l.window {
		l.clients[participantID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops state idle for more than five windows
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.clients {
		if now.Sub(w.windowStart) > 5*l.window {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of participants with live state
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
