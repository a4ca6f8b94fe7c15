package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stagepress/internal/config"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/handler"
	"github.com/stagepress/internal/lock"
	"github.com/stagepress/internal/logging"
	"github.com/stagepress/internal/mailer"
	"github.com/stagepress/internal/metrics"
	"github.com/stagepress/internal/middleware"
	"github.com/stagepress/internal/router"
	"github.com/stagepress/internal/sanitize"
	"github.com/stagepress/internal/secret"
	"github.com/stagepress/internal/service"
	"github.com/stagepress/internal/token"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("invalid log config, fallback to zap production logger", zap.Error(err))
	}
	defer logger.Sync()

	gin.SetMode(cfg.GinMode)

	gormLogLevel := gormlogger.Warn
	if strings.EqualFold(cfg.LogLevel, "debug") {
		gormLogLevel = gormlogger.Info
	}
	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseDSN, gormlogger.Default.LogMode(gormLogLevel)); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	if _, err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		logger.Fatal("failed to ensure admin user", zap.Error(err))
	}

	box, err := secret.NewBox(cfg.SettingsSecret)
	if err != nil {
		logger.Fatal("invalid settings secret", zap.Error(err))
	}
	tokens, err := token.NewService(cfg.UnsubscribeSecret)
	if err != nil {
		logger.Fatal("invalid unsubscribe secret", zap.Error(err))
	}
	renderer, err := mailer.NewRenderer()
	if err != nil {
		logger.Fatal("failed to parse mail templates", zap.Error(err))
	}

	var locker lock.Locker = lock.Nop{}
	if cfg.RedisLockURL != "" {
		redisLock, err := lock.NewRedis(cfg.RedisLockURL)
		if err != nil {
			logger.Fatal("failed to connect publish lock redis", zap.Error(err))
		}
		defer redisLock.Close()
		locker = redisLock
		logger.Info("publish lock enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	staging := service.NewStagingService(db.DB, sanitize.New(), box)
	subscribers := service.NewSubscriberService(db.DB)
	dispatcher := service.NewDispatchService(db.DB, service.DispatchConfig{
		Subscribers: subscribers,
		Tokens:      tokens,
		Renderer:    renderer,
		Links: service.SiteLinks{
			BaseURL:       cfg.SiteBaseURL,
			UploadDir:     cfg.UploadDir,
			UploadURLPath: cfg.UploadURLPath,
			HeroWidth:     cfg.HeroVariantWidth,
		},
		Transport: service.SMTPTransportFactory,
		Password:  staging.MailPassword,
		Metrics:   metrics.NewDispatch(registry),
		Logger:    logger.Named("notify"),
	})

	api := handler.NewAPI(db.DB, handler.Options{
		Staging:     staging,
		Publisher:   service.NewPublishService(db.DB, dispatcher, locker, logger.Named("publish")),
		Subscribers: subscribers,
		Tokens:      tokens,
		Images:      service.NewImageStore(cfg.UploadDir, cfg.UploadURLPath, cfg.HeroVariantWidth),
		Logger:      logger,
	})

	// 设置并运行 Gin 服务器
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: router.SetupRouter(api, router.Options{
			SessionSecret: cfg.SessionSecret,
			UploadDir:     cfg.UploadDir,
			UploadURLPath: cfg.UploadURLPath,
			Gatherer:      registry,
			SecureCookie:  strings.HasPrefix(cfg.SiteBaseURL, "https://"),
			PublicLimiter: middleware.NewIPRateLimiter(20, 5),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 通知批次在请求内同步执行，给在途批次留出时间
	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
