package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"vscan/internal/models"
	"vscan/internal/mq"
	"vscan/internal/service"
	"vscan/internal/ws"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	redisClient *redis.Client
	mqPublisher *mq.Publisher
	wsManager   *ws.Manager
	sessions    *service.SessionService
	startTime   time.Time
	version     string
}

// NewHealthHandler 创建健康检查处理器, redisClient 与 mqPublisher 可为 nil
func NewHealthHandler(
	redisClient *redis.Client,
	mqPublisher *mq.Publisher,
	wsManager *ws.Manager,
	sessions *service.SessionService,
	version string,
) *HealthHandler {
	return &HealthHandler{
		redisClient: redisClient,
		mqPublisher: mqPublisher,
		wsManager:   wsManager,
		sessions:    sessions,
		startTime:   time.Now(),
		version:     version,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       int64             `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	Sessions     int               `json:"sessions"`
	WebSockets   int               `json:"websocket_connections"`
}

// HealthCheck 健康检查
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dependencies := make(map[string]string)
	allHealthy := true

	// Redis 不可用时事件总线已降级为进程内实现
	switch {
	case h.redisClient == nil:
		dependencies["redis"] = "disabled"
	case h.redisClient.Ping(ctx).Err() != nil:
		dependencies["redis"] = "unhealthy"
		allHealthy = false
	default:
		dependencies["redis"] = "healthy"
	}

	switch {
	case h.mqPublisher == nil:
		dependencies["rabbitmq"] = "disabled"
	case !h.mqPublisher.IsConnected():
		dependencies["rabbitmq"] = "unhealthy"
		allHealthy = false
	default:
		dependencies["rabbitmq"] = "healthy"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:       status,
		Version:      h.version,
		Uptime:       int64(time.Since(h.startTime).Seconds()),
		Dependencies: dependencies,
		Sessions:     h.sessions.Count(),
		WebSockets:   h.wsManager.GetConnectionCount(),
	})
}

// Version 版本信息
func (h *HealthHandler) Version(c *gin.Context) {
	models.Success(c, gin.H{
		"version": h.version,
		"service": "vscan",
	})
}

// Ready 就绪检查
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "redis not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// Live 存活检查
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
