package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vscan/internal/config"
	"vscan/internal/handler"
	"vscan/internal/middleware"
	"vscan/internal/mq"
	"vscan/internal/service"
	"vscan/internal/ws"
)

// Version 服务版本
const Version = "1.0.0"

// Dependencies 路由依赖
type Dependencies struct {
	Config      *config.Config
	Sessions    *service.SessionService
	RedisClient *redis.Client // 为 nil 时表示未使用 Redis
	MQPublisher *mq.Publisher // 为 nil 时表示未启用通知
	WSManager   *ws.Manager
	RateLimiter *middleware.RateLimiter // 为 nil 时按配置新建
	Logger      *zap.Logger
}

// SetupRouter 设置路由
func SetupRouter(deps *Dependencies) *gin.Engine {
	if deps.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.CORS(&deps.Config.CORS))

	rateLimiter := deps.RateLimiter
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimiter(&deps.Config.RateLimit)
	}

	sessionHandler := handler.NewSessionHandler(deps.Sessions, deps.Logger)
	analyzeHandler := handler.NewAnalyzeHandler(deps.Sessions)
	healthHandler := handler.NewHealthHandler(
		deps.RedisClient,
		deps.MQPublisher,
		deps.WSManager,
		deps.Sessions,
		Version,
	)
	wsHandler := handler.NewWebSocketHandler(deps.WSManager)

	// 健康检查
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/version", healthHandler.Version)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/live", healthHandler.Live)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.IPRateLimit(rateLimiter))
	{
		// 无状态接口
		v1.GET("/classify", analyzeHandler.Classify)
		v1.GET("/analyze", analyzeHandler.Analyze)
		v1.GET("/samples", analyzeHandler.Samples)

		// 会话
		v1.POST("/sessions", sessionHandler.Create)
		v1.GET("/sessions/:id", sessionHandler.Get)
		v1.POST("/sessions/:id/preview", sessionHandler.Preview)
		v1.POST("/sessions/:id/samples/:index", sessionHandler.PreviewSample)
		v1.POST("/sessions/:id/analyze", sessionHandler.Analyze)
		v1.POST("/sessions/:id/reset", sessionHandler.Reset)

		// 钱包
		v1.GET("/sessions/:id/wallet", sessionHandler.Wallet)
		v1.POST("/sessions/:id/wallet/connect", sessionHandler.ConnectWallet)
		v1.POST("/sessions/:id/wallet/disconnect", sessionHandler.DisconnectWallet)
	}

	// WebSocket 状态推送
	r.GET("/api/v1/ws/status", wsHandler.Status)

	return r
}
