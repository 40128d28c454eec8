package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"vscan/internal/config"
	"vscan/internal/events"
	"vscan/internal/handler"
	"vscan/internal/middleware"
	"vscan/internal/mq"
	"vscan/internal/probe"
	"vscan/internal/router"
	"vscan/internal/service"
	"vscan/internal/wallet"
	"vscan/internal/ws"
)

func main() {
	configPath := flag.String("config", "config/dev.yaml", "path to config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	logger, err := newLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting vscan",
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.GRPC.Port))

	// 3. 连接 Redis, 不可用时事件总线降级为进程内实现
	var bus events.Bus
	redisClient := initRedis(&cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		logger.Warn("Failed to connect to Redis, using in-memory event bus", zap.Error(err))
		redisClient.Close()
		redisClient = nil
		bus = events.NewMemoryBus()
	} else {
		logger.Info("✓ Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		defer redisClient.Close()
		bus = events.NewRedisBus(redisClient, logger)
	}

	// 4. 连接 RabbitMQ
	deps := service.Dependencies{Bus: bus}
	var mqPublisher *mq.Publisher
	if cfg.RabbitMQ.Enabled {
		mqPublisher, err = mq.NewPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			// 不退出，允许降级运行
			logger.Warn("Failed to connect to RabbitMQ, notifications disabled", zap.Error(err))
		} else {
			defer mqPublisher.Close()
			deps.Notifier = mqPublisher
		}
	}

	// 5. 媒体检查与钱包
	if cfg.Preview.ProbeMedia {
		deps.Prober = probe.NewHTTPProber(cfg.Preview.GetProbeTimeout(), cfg.Preview.AllowPrivateHosts)
	}
	if cfg.Wallet.Enabled {
		provider, err := wallet.NewStaticProvider(cfg.Wallet.Accounts, cfg.Wallet.ChainID)
		if err != nil {
			logger.Fatal("Invalid wallet config", zap.Error(err))
		}
		deps.WalletProvider = provider
	}

	// 6. 会话服务
	sessions := service.NewSessionService(cfg, deps, logger)
	defer sessions.Close()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go sessions.RunJanitor(janitorCtx, cfg.Session.GetSweepInterval())

	// 7. HTTP 服务器
	wsManager := ws.NewManager(bus, func(id string) error {
		_, err := sessions.Get(id)
		return err
	}, logger)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit)
	go rateLimiter.RunJanitor(janitorCtx, cfg.Session.GetSweepInterval())

	r := router.SetupRouter(&router.Dependencies{
		Config:      cfg,
		Sessions:    sessions,
		RedisClient: redisClient,
		MQPublisher: mqPublisher,
		WSManager:   wsManager,
		RateLimiter: rateLimiter,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("✓ HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 8. gRPC 服务器
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	grpcServer := grpc.NewServer()
	healthServer := handler.RegisterAnalyzerService(grpcServer, handler.NewGRPCServer(sessions, logger))

	go func() {
		logger.Info("✓ gRPC server listening", zap.Int("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	// 9. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 10. 优雅关闭
	healthServer.Shutdown()
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("Server stopped")
}

// newLogger 按日志级别创建 zap 日志
func newLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Level == "debug" {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	if err := zcfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	return zcfg.Build()
}

// initRedis 初始化 Redis 连接
func initRedis(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
