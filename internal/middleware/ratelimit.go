package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"licensehub/backend/internal/cache"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/ratelimit"
)

// RateLimiter 公开 API 的限流中间件。
//
// 客户端按来源 IP 识别；被拒绝的请求不计入任何窗口，
// 响应体固定为 {"success":false,"message":"rate limit exceeded"}。
type RateLimiter struct {
	window  *ratelimit.SlidingWindow
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewRateLimiter 创建限流中间件
func NewRateLimiter(limits ratelimit.Limits, metrics *monitoring.Metrics, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		window:  ratelimit.NewSlidingWindow(limits),
		metrics: metrics,
		logger:  logger,
	}
}

// Limit 返回 gin 中间件
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()

		if !rl.window.Allow(clientID) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlock()
			}
			rl.logger.Warn("rate limit exceeded",
				zap.String("client", clientID),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded",
			})
			return
		}

		hourly, burst := rl.window.Remaining(clientID)
		c.Header("X-RateLimit-Remaining-Hour", strconv.Itoa(hourly))
		c.Header("X-RateLimit-Remaining-Burst", strconv.Itoa(burst))

		c.Next()
	}
}

// LoginLimiter 管理端登录的令牌桶限流，抵御口令爆破。
//
// 与公开 API 的滑动窗口无关：登录端点流量极低，
// 令牌桶的少量突发容忍在这里更合适。每客户端的令牌桶放在
// TTL 缓存里，长时间不再登录的 IP 会被自动清掉。
type LoginLimiter struct {
	limiters *cache.TTLCache
	r        rate.Limit
	burst    int
}

// NewLoginLimiter 创建登录限流器（每客户端 r 次/秒，突发 burst 次）
func NewLoginLimiter(r rate.Limit, burst int) *LoginLimiter {
	return &LoginLimiter{
		limiters: cache.NewTTLCache(15 * time.Minute),
		r:        r,
		burst:    burst,
	}
}

// Limit 返回 gin 中间件
func (ll *LoginLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		var limiter *rate.Limiter
		if cached, ok := ll.limiters.Get(clientIP); ok {
			limiter = cached.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(ll.r, ll.burst)
		}
		// 重置 TTL，活跃客户端的桶不会中途丢状态
		ll.limiters.Set(clientIP, limiter)

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "too many login attempts",
			})
			return
		}

		c.Next()
	}
}
