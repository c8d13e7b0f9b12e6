package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 限流器配置结构
type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	PerIPRate   int  `json:"perIpRate"`
	PerIPBurst  int  `json:"perIpBurst"`
}

// RateLimiterStats 限流器统计信息
type RateLimiterStats struct {
	TotalRequests    int64             `json:"totalRequests"`
	AllowedRequests  int64             `json:"allowedRequests"`
	RejectedRequests int64             `json:"rejectedRequests"`
	Config           RateLimiterConfig `json:"config"`
}

// RateLimiter throttles requests globally and per client IP. Per-IP buckets
// are pruned after an idle period so the map does not grow unbounded.
type RateLimiter struct {
	cfg    RateLimiterConfig
	global *rate.Limiter

	mu      sync.Mutex
	perIP   map[string]*ipBucket
	stats   map[string]int64
	statsMu sync.RWMutex
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds the limiter; a disabled config yields a pass-through.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:   cfg,
		perIP: make(map[string]*ipBucket),
		stats: map[string]int64{"total": 0, "allowed": 0, "rejected": 0},
	}
	if cfg.Enabled {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst)
		go rl.pruneLoop()
	}
	return rl
}

// Middleware 限流中间件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.cfg.Enabled {
			c.Next()
			return
		}

		rl.count("total")

		if !rl.global.Allow() || !rl.allowIP(c.ClientIP()) {
			rl.count("rejected")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please retry later",
			})
			c.Abort()
			return
		}

		rl.count("allowed")
		c.Next()
	}
}

// Stats handles GET /admin/rate-limiter.
func (rl *RateLimiter) Stats(c *gin.Context) {
	rl.statsMu.RLock()
	stats := RateLimiterStats{
		TotalRequests:    rl.stats["total"],
		AllowedRequests:  rl.stats["allowed"],
		RejectedRequests: rl.stats["rejected"],
		Config:           rl.cfg,
	}
	rl.statsMu.RUnlock()

	c.JSON(http.StatusOK, stats)
}

func (rl *RateLimiter) allowIP(ip string) bool {
	rl.mu.Lock()
	bucket, ok := rl.perIP[ip]
	if !ok {
		bucket = &ipBucket{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.PerIPRate), rl.cfg.PerIPBurst),
		}
		rl.perIP[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	rl.mu.Unlock()

	return bucket.limiter.Allow()
}

func (rl *RateLimiter) count(key string) {
	rl.statsMu.Lock()
	rl.stats[key]++
	rl.statsMu.Unlock()
}

// pruneLoop 定期清理长时间没有请求的IP桶
func (rl *RateLimiter) pruneLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for ip, bucket := range rl.perIP {
			if bucket.lastSeen.Before(cutoff) {
				delete(rl.perIP, ip)
			}
		}
		rl.mu.Unlock()
	}
}
