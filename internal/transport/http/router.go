package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/disposable/internal/app"
	"tempmail/disposable/internal/middleware"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	App         *app.App
	RateLimiter *middleware.IPRateLimiter // 为空时按配置新建，不做空闲回收
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	cfg := deps.App.Config()
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewIPRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, deps.App.Metrics(), log)
	}

	router := gin.New()
	monitor := middleware.NewMonitoringMiddleware(deps.App.Metrics(), log)

	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.App)

	// 健康检查与监控
	router.GET("/health", handler.health)
	router.GET("/health/live", handler.healthLive)
	router.GET("/health/ready", handler.healthReady)
	router.GET("/metrics", gin.WrapH(deps.App.Metrics().HTTPHandler()))

	// WebSocket 新邮件推送
	router.GET("/ws", deps.App.Hub().Handler())

	api := router.Group("/api")
	api.Use(limiter.Middleware())
	{
		api.GET("/generate", handler.generate)
		api.POST("/create", handler.create)
		api.GET("/check/:username/:domain", handler.check)
		api.GET("/emails/:address", handler.inbox)
		api.DELETE("/emails/:address", handler.deleteInbox)
		api.GET("/email/:id", handler.readMessage)
		api.GET("/stats", handler.stats)
		api.GET("/config", handler.config)
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "接口不存在")
	})

	return router
}
