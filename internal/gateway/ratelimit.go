package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterPruneSize = 1024
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ingestLimiter caps ingest submissions per client address. A zero budget
// disables limiting.
type ingestLimiter struct {
	mu      sync.Mutex
	perMin  int
	clients map[string]*clientLimiter
	nowFunc func() time.Time
}

func newIngestLimiter(perMin int) *ingestLimiter {
	return &ingestLimiter{
		perMin:  perMin,
		clients: make(map[string]*clientLimiter),
		nowFunc: time.Now,
	}
}

// Allow reports whether key may submit another ingest request now.
func (l *ingestLimiter) Allow(key string) bool {
	if l == nil || l.perMin <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if len(l.clients) >= limiterPruneSize {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin),
		}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
