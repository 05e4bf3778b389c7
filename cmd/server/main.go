package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"licensehub/backend/internal/auth"
	"licensehub/backend/internal/config"
	"licensehub/backend/internal/health"
	"licensehub/backend/internal/logger"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/service"
	"licensehub/backend/internal/storage"
	"licensehub/backend/internal/storage/hybrid"
	"licensehub/backend/internal/storage/memory"
	sqlstore "licensehub/backend/internal/storage/sql"
	httptransport "licensehub/backend/internal/transport/http"
	"licensehub/backend/internal/websocket"
)

const version = "1.2.0"

// main 启动许可证验证与激活服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting license server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	probeChecker := health.NewChecker(store, log)
	healthChecker := monitoring.NewHealthChecker(store, log, version)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.StoreConnectionRule(store))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0)) // 512MB
	alertManager.AddRule(monitoring.HighGoroutineCountRule(1000))

	log.Info("monitoring system initialized")

	// 初始化服务层
	keygen := service.NewKeyGenerator(store)
	validationService := service.NewValidationService(store)
	activationService := service.NewActivationService(store, validationService)
	lifecycleService := service.NewLifecycleService(store, keygen)
	licenseService := service.NewLicenseService(store, keygen, cfg.License.GraceDays)

	// 初始化认证服务
	authService := auth.NewService(store)
	tokenService := auth.NewTokenService(authService, &cfg.JWT)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 创建 WebSocket 事件中心并接入激活/生命周期事件
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, tokenService, log)
	activationService.SetEventSink(wsHub)
	lifecycleService.SetEventSink(wsHub)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		ValidationService: validationService,
		ActivationService: activationService,
		LicenseService:    licenseService,
		LifecycleService:  lifecycleService,
		AuthService:       authService,
		TokenService:      tokenService,
		Metrics:           metrics,
		HealthChecker:     healthChecker,
		AlertManager:      alertManager,
		ProbeChecker:      probeChecker,
		WebSocketHub:      wsHub,
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 失联激活清扫 goroutine（默认关闭；stale_after > 0 且 sweep_interval > 0
	// 时启用，sweep_interval 为 0 时失联情况仅经由 gauge 指标上报）
	if cfg.Activation.StaleAfter > 0 && cfg.Activation.SweepInterval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.Activation.SweepInterval)
			defer ticker.Stop()

			log.Info("starting stale activation sweep task",
				zap.Duration("stale_after", cfg.Activation.StaleAfter),
				zap.Duration("interval", cfg.Activation.SweepInterval),
			)

			for {
				select {
				case <-groupCtx.Done():
					log.Info("stale activation sweep stopped")
					return nil
				case <-ticker.C:
					count, err := activationService.SweepStale(cfg.Activation.StaleAfter)
					if err != nil {
						log.Error("failed to sweep stale activations", zap.Error(err))
					} else if count > 0 {
						metrics.RecordStaleSwept(count)
						log.Info("stale activations deactivated", zap.Int("count", count))
					}
				}
			}
		})
	}

	// 监控服务 goroutine
	group.Go(func() error {
		log.Info("starting monitoring services")
		healthChecker.StartPeriodicHealthCheck(groupCtx, 30*time.Second)
		return nil
	})
	group.Go(func() error {
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})
	gaugeCollector := monitoring.NewGaugeCollector(store, metrics, log, cfg.Activation.StaleAfter)
	group.Go(func() error {
		gaugeCollector.Start(groupCtx, 30*time.Second)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储实现
//
// database.type 为空时使用内存存储（开发环境）；配置了数据库后，
// redis.enabled 决定是否在 SQL 之上叠加验证读路径的缓存。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	if cfg.Redis.Enabled {
		store, err := hybrid.NewStore(hybrid.Options{
			DBType:          cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			RedisAddr:       cfg.Redis.Address,
			RedisPassword:   cfg.Redis.Password,
			RedisDB:         cfg.Redis.DB,
			CacheTTL:        cfg.Redis.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create hybrid store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("using database storage with redis cache",
			zap.String("type", cfg.Database.Type),
			zap.String("redis_address", cfg.Redis.Address),
		)
		return store, nil
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}
