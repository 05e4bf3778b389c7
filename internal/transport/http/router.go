package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"licensehub/backend/internal/auth"
	"licensehub/backend/internal/config"
	"licensehub/backend/internal/health"
	"licensehub/backend/internal/middleware"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/ratelimit"
	"licensehub/backend/internal/service"
	"licensehub/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	ValidationService *service.ValidationService
	ActivationService *service.ActivationService
	LicenseService    *service.LicenseService
	LifecycleService  *service.LifecycleService
	AuthService       *auth.Service
	TokenService      *auth.TokenService
	Metrics           *monitoring.Metrics
	HealthChecker     *monitoring.HealthChecker
	AlertManager      *monitoring.AlertManager
	ProbeChecker      *health.Checker
	WebSocketHub      *websocket.Hub
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
//
// 公开激活协议走限流；管理端走 JWT 认证；两组互不共享中间件。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(mon.HTTPMetrics())

	// 激活协议的请求体都很小，1MB 足够
	router.Use(middleware.BodySizeLimit(1 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Retry-After",
			"X-RateLimit-Remaining-Hour",
			"X-RateLimit-Remaining-Burst",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	publicHandler := NewPublicHandler(
		deps.ValidationService,
		deps.ActivationService,
		deps.LicenseService,
		deps.Metrics,
		deps.Logger,
	)
	adminHandler := NewAdminHandler(
		deps.LicenseService,
		deps.LifecycleService,
		deps.HealthChecker,
		deps.AlertManager,
		deps.Metrics,
		deps.Logger,
	)
	authHandler := NewAuthHandler(deps.AuthService, deps.TokenService, deps.Logger)

	// 创建中间件
	rateLimiter := middleware.NewRateLimiter(ratelimit.Limits{
		HourlyMax: deps.Config.RateLimit.HourlyMax,
		BurstMax:  deps.Config.RateLimit.BurstMax,
	}, deps.Metrics, deps.Logger)
	loginLimiter := middleware.NewLoginLimiter(rate.Every(time.Second), 5)
	adminAuth := middleware.NewAdminAuth(deps.TokenService, deps.Logger)

	// Prometheus 指标与存活/就绪探针
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	router.GET("/healthz", gin.WrapF(deps.ProbeChecker.LiveEndpoint))
	router.GET("/readyz", gin.WrapF(deps.ProbeChecker.ReadyEndpoint))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== 公开激活协议（无需认证，限流保护） ==========
		public := v1.Group("")
		public.Use(rateLimiter.Limit())
		{
			public.POST("/validate", middleware.ValidateContentType("application/json"), publicHandler.Validate)
			public.POST("/activate", middleware.ValidateContentType("application/json"), publicHandler.Activate)
			public.POST("/deactivate", middleware.ValidateContentType("application/json"), publicHandler.Deactivate)
			public.POST("/heartbeat", middleware.ValidateContentType("application/json"), publicHandler.Heartbeat)
			public.GET("/status/:key", publicHandler.Status)
		}

		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", loginLimiter.Limit(), authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(adminAuth.RequireAuth())
		{
			adminRoutes.GET("/me", authHandler.Me)
			adminRoutes.POST("/password", authHandler.ChangePassword)

			// 许可证管理
			adminRoutes.POST("/licenses", adminHandler.CreateLicense)
			adminRoutes.GET("/licenses", adminHandler.ListLicenses)
			adminRoutes.GET("/licenses/summary", adminHandler.SummarizeLicenses)
			adminRoutes.GET("/licenses/:key", adminHandler.GetLicense)
			adminRoutes.PATCH("/licenses/:key", adminHandler.UpdateLicense)
			adminRoutes.GET("/licenses/:key/status", adminHandler.GetLicenseStatus)

			// 生命周期操作（每个都是显式类型化端点，不做字符串分派）
			adminRoutes.POST("/licenses/:key/suspend", adminHandler.Suspend)
			adminRoutes.POST("/licenses/:key/unsuspend", adminHandler.Unsuspend)
			adminRoutes.DELETE("/licenses/:key", adminHandler.Delete)
			adminRoutes.POST("/licenses/:key/extend", adminHandler.Extend)
			adminRoutes.POST("/licenses/:key/regenerate-key", adminHandler.RegenerateKey)

			// 运维视图
			adminRoutes.GET("/health", adminHandler.GetHealth)
			adminRoutes.GET("/alerts", adminHandler.GetAlerts)
		}

		// ========== WebSocket 事件推送 ==========
		if deps.WebSocketHub != nil {
			v1.GET("/admin/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
