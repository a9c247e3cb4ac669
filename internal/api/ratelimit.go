package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter throttles generation requests per client address.
// Generation holds a GPU for seconds, so the burst is kept small.
type clientLimiter struct {
	mu      sync.Mutex
	rps     float64
	clients map[string]*rate.Limiter
}

func newClientLimiter(rps float64) *clientLimiter {
	return &clientLimiter{
		rps:     rps,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiter) allow(addr string) bool {
	l.mu.Lock()
	lim, ok := l.clients[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), 2)
		l.clients[addr] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
