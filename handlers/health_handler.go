package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/PrincewillDev/polling-app-sub000/mq"
)

// HealthHandler reports liveness of the backing stores.
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
	mq    *mq.Adapter
}

func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, adapter *mq.Adapter) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, mq: adapter}
}

// Check handles GET /health.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK

	dbStatus := "ok"
	if h.db == nil {
		dbStatus = "unconfigured"
		status = http.StatusServiceUnavailable
	} else if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "down"
		status = http.StatusServiceUnavailable
	}

	redisStatus := "ok"
	if h.redis == nil {
		// 缓存可选，缺失不影响整体健康
		redisStatus = "disabled"
	} else if err := h.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "down"
	}

	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"database":  dbStatus,
		"redis":     redisStatus,
	}
	if h.mq != nil {
		body["mq"] = h.mq.Stats()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	c.JSON(status, body)
}
