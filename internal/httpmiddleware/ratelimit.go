package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"attendly/internal/metrics"
)

// idle buckets older than this are dropped on the next refill pass
const bucketIdleTTL = 10 * time.Minute

// TokenBucket is an in-memory per-client rate limiter. State is local to
// the process; with multiple replicas the effective limit scales with the
// replica count, which is acceptable for an abuse guard.
type TokenBucket struct {
	capacity int
	rate     int
	mu       sync.Mutex
	state    map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates a limiter holding capacity tokens refilled at
// perMinute tokens per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		lastScan: time.Now(),
	}
}

// GinMiddleware enforces per-client-IP limits and answers 429 with a
// Retry-After hint when a client runs dry.
func (l *TokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", l.retryAfter())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *TokenBucket) retryAfter() string {
	if l.rate <= 0 {
		return "60"
	}
	secs := 60 / l.rate
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (l *TokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evictStale(now)

	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictStale drops buckets idle past the TTL so the map stays bounded by
// the active client set. Called with the lock held; scans at most once a
// minute.
func (l *TokenBucket) evictStale(now time.Time) {
	if now.Sub(l.lastScan) < time.Minute {
		return
	}
	l.lastScan = now
	for key, b := range l.state {
		if now.Sub(b.last) > bucketIdleTTL {
			delete(l.state, key)
		}
	}
}
