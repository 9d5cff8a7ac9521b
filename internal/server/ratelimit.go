// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"cmp"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	defaultMaxVisitors = 10000
	visitorStaleAfter  = 10 * time.Minute
	visitorSweepEvery  = 5 * time.Minute
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps how many IPs are tracked; the least recently seen
	// are evicted first. Zero means 10000.
	MaxVisitors int
}

// Validate checks the config and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return ragerr.Errorf(ragerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return ragerr.Errorf(ragerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return ragerr.Errorf(ragerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type bucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

// limiter is a token bucket per client IP.
type limiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*bucket
	now      func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, visitors: make(map[string]*bucket), now: time.Now}
}

// allow takes one token from ip's bucket.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.visitors[ip]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
		l.visitors[ip] = b
	}
	b.lastSeen = now

	b.tokens = min(float64(l.cfg.Burst), b.tokens+now.Sub(b.lastRefill).Seconds()*l.cfg.RequestsPerSecond)
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops stale buckets, then evicts the oldest until the map fits
// MaxVisitors.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	type seen struct {
		ip   string
		last time.Time
	}
	live := make([]seen, 0, len(l.visitors))
	for ip, b := range l.visitors {
		if now.Sub(b.lastSeen) > visitorStaleAfter {
			delete(l.visitors, ip)
			continue
		}
		live = append(live, seen{ip: ip, last: b.lastSeen})
	}

	if l.cfg.MaxVisitors > 0 && len(live) > l.cfg.MaxVisitors {
		slices.SortFunc(live, func(a, b seen) int { return cmp.Compare(a.last.UnixNano(), b.last.UnixNano()) })
		evict := len(live) - l.cfg.MaxVisitors
		for _, v := range live[:evict] {
			delete(l.visitors, v.ip)
		}
		slog.Warn("rate limiter visitor cap enforced", "evicted", evict, "max_visitors", l.cfg.MaxVisitors)
	}
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// rateLimitMiddleware enforces per-IP limits and sweeps idle clients until
// done is closed. RequestsPerSecond zero makes it a pass-through.
var errRateLimited = ragerr.New(ragerr.CodeServerRateLimited, "rate limit exceeded")

func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(visitorSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Key by IP, not IP:port, so extra connections do not get extra buckets.
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !l.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeErrorJSON(w, ragerr.HTTPStatus(errRateLimited), errRateLimited.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
