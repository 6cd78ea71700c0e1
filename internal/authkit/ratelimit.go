package authkit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const attemptLimiterIdleTTL = 10 * time.Minute

// AttemptLimiter throttles credential attempts per client IP with a token bucket.
type AttemptLimiter struct {
	mutex   sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewAttemptLimiter allows attemptsPerMinute per client, bursting to the same amount.
// A non-positive rate disables limiting.
func NewAttemptLimiter(attemptsPerMinute int) *AttemptLimiter {
	if attemptsPerMinute <= 0 {
		return nil
	}
	return &AttemptLimiter{
		limit:   rate.Limit(float64(attemptsPerMinute) / 60.0),
		burst:   attemptsPerMinute,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether the client may make another attempt.
func (limiter *AttemptLimiter) Allow(clientKey string) bool {
	if limiter == nil {
		return true
	}
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	now := limiter.now()
	limiter.purgeIdleLocked(now)
	entry, ok := limiter.clients[clientKey]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.clients[clientKey] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// TrustProxies limits which peers may set the client address through
// forwarding headers. With no proxies the peer address is the client.
func TrustProxies(router *gin.Engine, proxies []string) error {
	if len(proxies) == 0 {
		return router.SetTrustedProxies(nil)
	}
	if err := router.SetTrustedProxies(proxies); err != nil {
		return fmt.Errorf("authkit.trusted_proxies: %w", err)
	}
	return nil
}

// Middleware rejects throttled clients with 429. Clients are keyed by
// gin's ClientIP, so the router's trusted proxies decide the key.
func (limiter *AttemptLimiter) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if !limiter.Allow(contextGin.ClientIP()) {
			retryAfter := 60
			if limiter.limit > 0 {
				retryAfter = int(1/float64(limiter.limit)) + 1
			}
			contextGin.Header("Retry-After", strconv.Itoa(retryAfter))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts"})
			return
		}
		contextGin.Next()
	}
}

func (limiter *AttemptLimiter) purgeIdleLocked(now time.Time) {
	for clientKey, entry := range limiter.clients {
		if now.Sub(entry.lastAccess) > attemptLimiterIdleTTL {
			delete(limiter.clients, clientKey)
		}
	}
}
