package httpapi

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"libris/internal/fault"
	"libris/internal/render"
)

const clientTableSize = 10000

var errTooManyRequests = fault.New(fault.RateLimited, "rate limit exceeded")

// clientLimiter keeps one token bucket per client address. The table is
// bounded; the least recently seen client loses its bucket first.
type clientLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

func newClientLimiter(perSecond float64, burst, size int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	clients, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &clientLimiter{clients: clients, limit: rate.Limit(perSecond), burst: burst}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			render.Error(w, errTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
