// internal/httpserver/ratelimit.go
//
// Per-client token buckets for the game-mutating endpoints.
//
// Clients are keyed by remote IP (after chi's RealIP). Idle buckets are swept
// periodically; the table is also halved, oldest first, if it ever grows past
// maxClients between sweeps.

package httpserver

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const maxClients = 50000

type clientLimiter struct {
	lim        *rate.Limiter
	lastAccess time.Time
}

// Limiter holds one rate.Limiter per client key.
type Limiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewLimiter allows rps sustained requests per client with the given burst.
func NewLimiter(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Limiter{
		every:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).AllowN(l.now(), 1)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if c, ok := l.clients[key]; ok {
		c.lastAccess = now
		return c.lim
	}
	if len(l.clients) >= maxClients {
		l.evictOldestLocked(len(l.clients) / 2)
	}
	c := &clientLimiter{lim: rate.NewLimiter(l.every, l.burst), lastAccess: now}
	l.clients[key] = c
	return c.lim
}

// Sweep drops clients idle for longer than the idle TTL and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for key, c := range l.clients {
		if c.lastAccess.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) evictOldestLocked(n int) {
	type entry struct {
		key  string
		seen time.Time
	}
	entries := make([]entry, 0, len(l.clients))
	for k, c := range l.clients {
		entries = append(entries, entry{k, c.lastAccess})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.Before(entries[j].seen) })
	for i := 0; i < n && i < len(entries); i++ {
		delete(l.clients, entries[i].key)
	}
	log.Warn().Int("evicted", n).Msg("rate limiter table full, evicted oldest clients")
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("swept idle rate limiters")
			}
		}
	}
}

// Middleware rejects requests over the client's budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
