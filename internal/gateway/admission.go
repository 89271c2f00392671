package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultConnectPoints   = 100
	DefaultConnectDuration = time.Minute
	defaultIdleTTL         = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Admission is a per-address token bucket for new connections. Each bucket
// holds points tokens and refills them evenly over duration.
type Admission struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

func NewAdmission(points int, duration time.Duration) *Admission {
	if points <= 0 {
		points = DefaultConnectPoints
	}
	if duration <= 0 {
		duration = DefaultConnectDuration
	}
	idle := defaultIdleTTL
	if duration > idle {
		idle = duration
	}
	return &Admission{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(duration / time.Duration(points)),
		burst:    points,
		idleTTL:  idle,
		now:      time.Now,
	}
}

// Allow consumes one token for addr and reports whether the attempt may proceed.
func (a *Admission) Allow(addr string) bool {
	now := a.now()

	a.mu.Lock()
	v, ok := a.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.visitors[addr] = v
	}
	v.lastSeen = now
	a.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for longer than the idle TTL. A bucket idle that
// long has refilled completely, so forgetting it changes nothing.
func (a *Admission) Prune(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for addr, v := range a.visitors {
		if now.Sub(v.lastSeen) > a.idleTTL {
			delete(a.visitors, addr)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of addresses with a live bucket.
func (a *Admission) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.visitors)
}

// clientIP keys admission on the TCP peer. Forwarding headers are read only
// when trustProxy is set, since any client can write them.
func clientIP(r *http.Request, trustProxy bool) string {
	if r == nil {
		return ""
	}
	if trustProxy {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func forwardedIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
