package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
)

// RateLimitMiddleware keeps a token bucket per client key (client IP, or the
// authenticated bearer token when present). Buckets idle past the stale
// window are pruned on the fly.
type RateLimitMiddleware struct {
	log   *logger.Logger
	mu    sync.Mutex
	seen  map[string]*clientLimiter
	rps   rate.Limit
	burst int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const staleAfter = 10 * time.Minute

func NewRateLimitMiddleware(log *logger.Logger, perMinute, burst int) *RateLimitMiddleware {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimitMiddleware{
		log:   log.With("middleware", "RateLimitMiddleware"),
		seen:  make(map[string]*clientLimiter),
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
	}
}

func (rl *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if len(rl.seen) > 1024 {
		for k, cl := range rl.seen {
			if now.Sub(cl.lastSeen) > staleAfter {
				delete(rl.seen, k)
			}
		}
	}

	cl, ok := rl.seen[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.seen[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (rl *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Authorization")
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.limiterFor(key).Allow() {
			retryAfter := int(float64(1)/float64(rl.rps)) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
