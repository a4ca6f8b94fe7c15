package handler

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/service"
	"go.uber.org/zap"
)

// ListSubscribers 返回订阅者列表，可按状态筛选。
func (a *API) ListSubscribers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "50"))

	result, err := a.subscribers.List(service.SubscriberFilter{
		Status:  c.Query("status"),
		Search:  c.Query("q"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		a.logger.Error("list subscribers", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "获取订阅者失败")
		return
	}
	counts, err := a.subscribers.Counts()
	if err != nil {
		a.logger.Error("count subscribers", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "获取订阅者失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscribers": result.Subscribers,
		"total":       result.Total,
		"totalPages":  result.TotalPages,
		"page":        result.Page,
		"perPage":     result.PerPage,
		"counts":      counts,
	})
}

// ArchiveSubscriber 归档订阅者（不删除）。
func (a *API) ArchiveSubscriber(c *gin.Context) {
	a.toggleSubscriber(c, a.subscribers.Archive, "订阅者已归档")
}

// ReactivateSubscriber 重新激活已归档的订阅者。
func (a *API) ReactivateSubscriber(c *gin.Context) {
	a.toggleSubscriber(c, a.subscribers.Reactivate, "订阅者已恢复")
}

func (a *API) toggleSubscriber(c *gin.Context, apply func(uint) (*db.Subscriber, error), message string) {
	id, ok := pathID(c, "订阅者")
	if !ok {
		return
	}
	subscriber, err := apply(id)
	if err != nil {
		a.respondServiceError(c, err, "更新订阅者失败", zap.Uint("subscriber_id", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "subscriber": subscriber})
}

type subscribeRequest struct {
	Email string `json:"email" form:"email"`
}

// Subscribe 公开的订阅入口。
func (a *API) Subscribe(c *gin.Context) {
	var payload subscribeRequest
	if err := c.ShouldBind(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "请输入邮箱地址")
		return
	}

	if _, err := a.subscribers.Subscribe(payload.Email); err != nil {
		a.respondServiceError(c, err, "订阅失败，请稍后重试")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "订阅成功"})
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="robots" content="noindex"><title>{{.Title}}</title></head>
<body style="font-family:system-ui,sans-serif;max-width:480px;margin:64px auto;text-align:center">
<h1 style="font-size:20px">{{.Title}}</h1><p>{{.Message}}</p>
{{if .Token}}<form method="post" action="/unsubscribe">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit" style="padding:8px 20px">确认退订</button>
</form>{{end}}
</body></html>`))

// ConfirmUnsubscribe 处理邮件中的退订链接：只校验令牌并展示确认按钮，
// 不修改数据，避免邮件安全扫描器预取链接时误退订。
func (a *API) ConfirmUnsubscribe(c *gin.Context) {
	raw := c.Query("token")
	if _, err := a.tokens.Validate(raw); err != nil {
		a.renderUnsubscribe(c, http.StatusBadRequest, "链接无效", "退订链接无效或已损坏。", "")
		return
	}
	a.renderUnsubscribe(c, http.StatusOK, "退订确认", "确认后将不再收到新文章通知。", raw)
}

// Unsubscribe 校验退订令牌并归档对应订阅者。
// 来源是确认页表单，或支持 List-Unsubscribe-Post 的邮件客户端（令牌在查询串中）。
func (a *API) Unsubscribe(c *gin.Context) {
	raw := c.PostForm("token")
	if raw == "" {
		raw = c.Query("token")
	}

	email, err := a.tokens.Validate(raw)
	if err != nil {
		a.renderUnsubscribe(c, http.StatusBadRequest, "链接无效", "退订链接无效或已损坏。", "")
		return
	}

	if err := a.subscribers.ArchiveByEmail(email); err != nil && !errors.Is(err, service.ErrSubscriberNotFound) {
		a.logger.Error("unsubscribe", zap.Error(err))
		a.renderUnsubscribe(c, http.StatusInternalServerError, "退订失败", "请稍后重试。", "")
		return
	}
	a.renderUnsubscribe(c, http.StatusOK, "已退订", "你将不会再收到新文章通知。", "")
}

func (a *API) renderUnsubscribe(c *gin.Context, status int, title, message, token string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := unsubscribePage.Execute(c.Writer, gin.H{"Title": title, "Message": message, "Token": token}); err != nil {
		a.logger.Error("render unsubscribe page", zap.Error(err))
	}
}
