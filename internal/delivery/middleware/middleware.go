package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// AccountIDKey holds the caller's account id set by AccountID.
const AccountIDKey = "account_id"

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)

		// Add to context for logging
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Structured logging middleware
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithContext(c.Request.Context()).WithFields(map[string]any{
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"user_agent": c.Request.UserAgent(),
			"error":      c.Errors.ByType(gin.ErrorTypePrivate).String(),
		}).Info("HTTP Request")
	}
}

// Panic recovery middleware
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		requestID := c.GetString("request_id")

		log.WithFields(map[string]any{
			"request_id": requestID,
			"error":      recovered,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		}).Error("Panic recovered")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": requestID,
		})
	})
}

// Timeout bounds the request context; store calls observe the deadline.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		defer m.DecHTTPRequestsInFlight()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

const (
	maxRateLimitClients = 100_000
	rateLimitIdleTTL    = 10 * time.Minute
)

// RateLimit applies a token bucket per client IP.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return rateLimit(newClientLimiters(perSecond, burst, maxRateLimitClients, rateLimitIdleTTL))
}

func rateLimit(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests",
				"request_id": c.GetString("request_id"),
			})
			return
		}
		c.Next()
	}
}

// clientLimiters keeps one limiter per client; clients idle for longer than
// the ttl, or pushed out by newer ones, start over with a full bucket.
type clientLimiters struct {
	mu        sync.Mutex
	cache     *expirable.LRU[string, *rate.Limiter]
	perSecond rate.Limit
	burst     int
}

func newClientLimiters(perSecond float64, burst, size int, idle time.Duration) *clientLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiters{
		cache:     expirable.NewLRU[string, *rate.Limiter](size, nil, idle),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
	}
}

func (l *clientLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.cache.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
	}
	// re-adding refreshes the idle deadline
	l.cache.Add(ip, limiter)
	return limiter
}

// AccountID reads the caller identity forwarded by the upstream auth layer.
func AccountID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader("X-Account-ID"), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "Missing or invalid X-Account-ID header",
				"request_id": c.GetString("request_id"),
			})
			return
		}

		c.Set(AccountIDKey, uint(id))
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.AccountIDKey, uint(id)))
		c.Next()
	}
}

func PrometheusHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
