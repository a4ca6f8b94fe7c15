package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/db"
	"go.uber.org/zap"
)

// HealthCheck 检查数据库连通性与设置单例是否可读，并报告发信是否就绪。
// 只读，不会补建缺失的设置行。
func (a *API) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	var settings db.Settings
	if err := a.db.WithContext(ctx).First(&settings, db.SettingsID).Error; err != nil {
		a.logger.Warn("health check settings", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"database": "up",
			"settings": "unreadable",
		})
		return
	}

	mail := "unconfigured"
	if settings.SMTPHost != "" && settings.MailFrom != "" {
		mail = "configured"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"database":        "up",
		"settings":        "ok",
		"mail":            mail,
		"notifyOnPublish": settings.NotifyOnPublish,
	})
}
