package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RPCLimiter throttles RPC dispatch per connection. An rpm of zero or
// less disables it.
type RPCLimiter struct {
	mu       sync.Mutex
	rpm      int
	limiters map[string]*rate.Limiter
}

// NewRPCLimiter creates a limiter allowing rpm requests per minute per
// client, with a small burst.
func NewRPCLimiter(rpm int) *RPCLimiter {
	return &RPCLimiter{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether the limiter throttles at all.
func (l *RPCLimiter) Enabled() bool { return l.rpm > 0 }

// Allow reports whether the client may dispatch another request now.
func (l *RPCLimiter) Allow(clientID string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), 5)
		l.limiters[clientID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops a disconnected client's bucket.
func (l *RPCLimiter) Forget(clientID string) {
	l.mu.Lock()
	delete(l.limiters, clientID)
	l.mu.Unlock()
}
