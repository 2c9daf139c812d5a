package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/disposable/internal/cache"
	"tempmail/disposable/internal/monitoring"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	maxTrackedIPs   = 100000
	cleanupInterval = time.Minute
)

// IPRateLimiter 按客户端 IP 的令牌桶限流，空闲的限流器会过期回收
type IPRateLimiter struct {
	limiters *cache.LocalCache[*rate.Limiter]
	limit    rate.Limit
	burst    int
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewIPRateLimiter 创建限流器，rps<=0 时不限流
func NewIPRateLimiter(rps float64, burst int, metrics *monitoring.Metrics, logger *zap.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPRateLimiter{
		limiters: cache.NewLocalCache[*rate.Limiter](maxTrackedIPs, limiterIdleTTL),
		limit:    rate.Limit(rps),
		burst:    burst,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run 定期回收空闲限流器
func (l *IPRateLimiter) Run(ctx context.Context) {
	l.limiters.Run(ctx, cleanupInterval)
}

// Allow 判断该 IP 的请求是否放行
func (l *IPRateLimiter) Allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	limiter := l.limiters.GetOrCreate(ip, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
	return limiter.Allow()
}

// Middleware 限流中间件，超限返回 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			l.metrics.RecordRateLimitBlock("http")
			l.logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
