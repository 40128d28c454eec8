package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"vscan/internal/config"
)

// ipEntry 单个IP的限流器及最后访问时间
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// RateLimiter 限流器
type RateLimiter struct {
	globalLimiter *rate.Limiter
	ipLimiters    sync.Map // map[ip]*ipEntry
	ipRPS         rate.Limit
	burst         int
	idleTTL       time.Duration
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.Burst*2),
		ipRPS:         rate.Limit(cfg.IPRPS),
		burst:         cfg.Burst,
		idleTTL:       cfg.GetIdleTTL(),
	}
}

// ipLimiter 获取IP限流器
func (rl *RateLimiter) ipLimiter(ip string, now time.Time) *rate.Limiter {
	v, ok := rl.ipLimiters.Load(ip)
	if !ok {
		entry := &ipEntry{limiter: rate.NewLimiter(rl.ipRPS, rl.burst)}
		entry.lastSeen.Store(now.UnixNano())
		v, _ = rl.ipLimiters.LoadOrStore(ip, entry)
	}
	entry := v.(*ipEntry)
	entry.lastSeen.Store(now.UnixNano())
	return entry.limiter
}

// Size 当前跟踪的IP数
func (rl *RateLimiter) Size() int {
	count := 0
	rl.ipLimiters.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// Sweep 回收空闲超过 idleTTL 的IP限流器
func (rl *RateLimiter) Sweep(now time.Time) int {
	if rl.idleTTL <= 0 {
		return 0
	}

	cutoff := now.Add(-rl.idleTTL).UnixNano()
	removed := 0
	rl.ipLimiters.Range(func(key, value interface{}) bool {
		if value.(*ipEntry).lastSeen.Load() < cutoff {
			rl.ipLimiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// RunJanitor 周期性回收空闲的IP限流器, ctx 结束时返回
func (rl *RateLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.Sweep(now)
		}
	}
}

// IPRateLimit IP 限流中间件
func IPRateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.globalLimiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": "global rate limit exceeded, please try again later",
			})
			return
		}

		if !rl.ipLimiter(c.ClientIP(), time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": "ip rate limit exceeded, please try again later",
			})
			return
		}

		c.Next()
	}
}
