package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"live-auction/internal/metrics"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded")

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"status":    c.Writer.Status(),
		"client_ip": c.ClientIP(),
		"latency":   time.Since(start).String(),
	})
}

// BidRateLimiter is a token bucket per client IP. Idle buckets are dropped
// after ttl.
type BidRateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewBidRateLimiter allows perSecond sustained requests with the given burst
// for each client.
func NewBidRateLimiter(perSecond rate.Limit, burst int) *BidRateLimiter {
	return &BidRateLimiter{
		limit:     perSecond,
		burst:     burst,
		ttl:       5 * time.Minute,
		buckets:   make(map[string]*bucket),
		lastPrune: time.Now(),
	}
}

// Allow reports whether the client may proceed now.
func (l *BidRateLimiter) Allow(clientIP string) bool {
	if clientIP == "" {
		clientIP = "unknown"
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > time.Minute {
		for ip, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, ip)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[clientIP]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[clientIP] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Clients returns the number of tracked client buckets.
func (l *BidRateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rejects requests over the client's budget with 429.
func (l *BidRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			metrics.BidsRejected.WithLabelValues("rate_limited").Inc()
			utils.JSONError(c, http.StatusTooManyRequests, errRateLimited, "too many bids, slow down")
			c.Abort()
			utils.Warn("bid rate limit exceeded", map[string]any{
				"client_ip": c.ClientIP(),
				"path":      c.Request.URL.Path,
			})
			return
		}
		c.Next()
	}
}
