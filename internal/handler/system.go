package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"HibiscusHood/pkg/metrics"
	"HibiscusHood/pkg/response"
)

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// SystemStats 系统资源快照
func (h *Handlers) SystemStats(c *gin.Context) {
	response.Success(c, "success", gin.H{"stats": metrics.CollectSystemStats()})
}
