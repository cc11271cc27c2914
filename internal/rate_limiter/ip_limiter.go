package ratelimiter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CleanupOpts controls how long an idle client's bucket is kept.
type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

type ipAddr string

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// IPRateLimiter keeps one token bucket per client address. It guards the
// websocket handshake so a single client cannot open connections in a loop.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[ipAddr]*bucket

	every rate.Limit
	burst int
	opts  CleanupOpts
	stop  context.CancelFunc
	log   *slog.Logger
}

// NewIPRateLimiter allows each address requests handshakes per window. Idle
// buckets are swept every opts.Interval until Stop.
func NewIPRateLimiter(requests int, window time.Duration, opts CleanupOpts, log *slog.Logger) *IPRateLimiter {
	ctx, stop := context.WithCancel(context.Background())
	rl := &IPRateLimiter{
		buckets: make(map[ipAddr]*bucket),
		every:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		opts:    opts,
		stop:    stop,
		log:     log,
	}
	go rl.sweepEvery(ctx)
	return rl
}

func (rl *IPRateLimiter) Stop() {
	rl.stop()
}

// Tracked returns the number of addresses with a live bucket.
func (rl *IPRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Allow takes a token from ip's bucket, creating a full one on first sight.
func (rl *IPRateLimiter) Allow(ip ipAddr) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.buckets[ip]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = time.Now()
	return b.lim.Allow()
}

// Middleware answers 429 once the caller's address runs out of tokens.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.log)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		rl.log.WarnContext(r.Context(), "handshake rate limit exceeded",
			"ip", ip,
			"path", r.URL.Path)
		http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
	})
}

func (rl *IPRateLimiter) sweepEvery(ctx context.Context) {
	ticker := time.NewTicker(rl.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep forgets addresses not seen for longer than the TTL.
func (rl *IPRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, b := range rl.buckets {
		if now.Sub(b.seen) > rl.opts.TTL {
			delete(rl.buckets, ip)
		}
	}
}

// clientIP prefers the hop closest to us in X-Forwarded-For and falls back to
// the remote address.
func clientIP(r *http.Request, log *slog.Logger) ipAddr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return ipAddr(strings.TrimSpace(hops[len(hops)-1]))
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		log.Debug("remote address without port", "remote_addr", r.RemoteAddr)
		return ipAddr(r.RemoteAddr)
	}
	return ipAddr(host)
}
