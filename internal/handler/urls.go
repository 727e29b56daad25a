package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/config"
	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/middleware"
	"HibiscusHood/pkg/notification"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	db         *gorm.DB
	dispatcher *notification.Dispatcher
	cooldown   *models.CooldownGuard
}

func NewHandlers(db *gorm.DB, dispatcher *notification.Dispatcher, cooldown *models.CooldownGuard) *Handlers {
	return &Handlers{
		db:         db,
		dispatcher: dispatcher,
		cooldown:   cooldown,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r := engine.Group(config.GlobalConfig.APIPrefix)
	r.Use(metrics.HTTPMiddleware(metrics.Default()))

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       config.GlobalConfig.RateLimit,
		SkipPaths:  []string{"/metrics", config.GlobalConfig.APIPrefix + "/system/health"},
		AddHeaders: true,
	}, nil).WithObserver(middleware.NewPrometheusObserver())
	r.Use(limiter.Middleware())

	h.registerSystemRoutes(r)
	h.registerAlertRoutes(r)
	h.registerTransactionRoutes(r)
	h.registerNotificationRoutes(r)
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	alert := r.Group("alert")
	{
		alert.POST("/", h.handleCreateAlert)

		alert.GET("/", h.handleListAlerts)

		alert.GET("/:id", h.handleGetAlert)

		alert.POST("/:id/respond", h.handleRespondToAlert)

		alert.POST("/:id/respond/cancel", h.handleCancelResponse)

		alert.PUT("/:id/status", h.handleSetAlertStatus)
	}
}

func (h *Handlers) registerTransactionRoutes(r *gin.RouterGroup) {
	tx := r.Group("transaction")
	tx.Use(middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{}))
	{
		tx.POST("/", h.handleCreateTransaction)

		tx.GET("/:id", h.handleGetTransaction)

		tx.POST("/:id/interest", h.handleExpressInterest)

		tx.POST("/:id/accept", h.handleAcceptTransaction)

		tx.PUT("/:id/status", h.handleSetTransactionStatus)

		tx.POST("/:id/confirm", h.handleConfirmCompletion)
	}

	user := r.Group("user")
	{
		user.GET("/balance", h.handleBalances)
	}
}

func (h *Handlers) registerNotificationRoutes(r *gin.RouterGroup) {
	notificationGroup := r.Group("notification")
	{
		notificationGroup.GET("unread-count", h.handleUnReadNotificationCount)

		notificationGroup.GET("", h.handleListNotifications)

		notificationGroup.POST("readAll", h.handleReadAllNotifications)

		notificationGroup.PUT("/read/:id", h.handleMarkNotificationAsRead)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)

		system.GET("/stats", h.SystemStats)
	}
}

// currentUserID 网关认证后注入的调用者身份
// 登录与会话签发不在本服务范围内
func currentUserID(c *gin.Context) uint {
	id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
