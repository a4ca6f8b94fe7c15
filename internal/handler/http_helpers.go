package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/secret"
	"github.com/stagepress/internal/service"
	"go.uber.org/zap"
)

// serviceErrors 把服务层哨兵错误映射为状态码与提示文案，按顺序匹配。
var serviceErrors = []struct {
	err     error
	status  int
	message string
}{
	{service.ErrPostNotFound, http.StatusNotFound, "文章不存在"},
	{service.ErrSubscriberNotFound, http.StatusNotFound, "订阅者不存在"},
	{service.ErrInvalidFormat, http.StatusBadRequest, "不支持的正文格式"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "邮箱地址无效"},
	{service.ErrInvalidSMTPPort, http.StatusBadRequest, "SMTP 端口无效"},
	{service.ErrInvalidPolicy, http.StatusBadRequest, "未知的断线处理策略"},
	{service.ErrUnsupportedImage, http.StatusBadRequest, "不支持的图片格式"},
	{service.ErrImageTooLarge, http.StatusRequestEntityTooLarge, "图片过大"},
	{service.ErrPublishInProgress, http.StatusConflict, "该文章正在发布中，请稍后再试"},
	{service.ErrNotifierMissing, http.StatusServiceUnavailable, "邮件通知未配置"},
	{secret.ErrSecretKeyMissing, http.StatusServiceUnavailable, "未配置设置加密密钥，无法保存 SMTP 密码"},
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondServiceError 回写已知的业务错误；其余错误记录日志并返回 500 与 fallback。
func (a *API) respondServiceError(c *gin.Context, err error, fallback string, fields ...zap.Field) {
	for _, known := range serviceErrors {
		if errors.Is(err, known.err) {
			respondError(c, known.status, known.message)
			return
		}
	}
	a.logger.Error(fallback, append(fields, zap.Error(err))...)
	respondError(c, http.StatusInternalServerError, fallback)
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// pathID 解析路由中的 :id。非数字或为 0 时直接返回 400。
func pathID(c *gin.Context, resource string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "无效的"+resource+"ID")
		return 0, false
	}
	return uint(id), true
}
