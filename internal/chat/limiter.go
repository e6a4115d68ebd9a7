package chat

import (
	"sync"
	"time"
)

// Default flood limit for say: messages per window per connection.
const (
	DefaultSayLimit  = 100
	DefaultSayWindow = time.Minute
)

// limiter is a fixed-window counter keyed by connection ID.
type limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*window
}

type window struct {
	count int
	start time.Time
}

func newLimiter(limit int, span time.Duration) *limiter {
	return &limiter{
		limit:   limit,
		window:  span,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

// Allow counts one message for id and reports whether it fits the window.
// A non-positive limit disables limiting.
func (l *limiter) Allow(id string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[id]
	if !ok || now.Sub(w.start) >= l.window {
		l.clients[id] = &window{count: 1, start: now}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the state for id once its connection closes.
func (l *limiter) Forget(id string) {
	l.mu.Lock()
	delete(l.clients, id)
	l.mu.Unlock()
}

func (l *limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
