package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/service"
)

type postDraftRequest struct {
	Title       *string         `json:"title"`
	Body        *string         `json:"body"`
	Format      string          `json:"format"`
	HeroImage   *string         `json:"heroImage"`
	HeroOptions *db.HeroDisplay `json:"heroOptions"`
	Gallery     *[]string       `json:"gallery"`
}

func (r postDraftRequest) toInput(userID uint) service.PostDraftInput {
	return service.PostDraftInput{
		Title:       r.Title,
		Body:        r.Body,
		BodyFormat:  r.Format,
		HeroImage:   r.HeroImage,
		HeroOptions: r.HeroOptions,
		Gallery:     r.Gallery,
		UserID:      userID,
	}
}

// GetPost 返回文章的已发布字段与草稿字段。
func (a *API) GetPost(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}
	post, err := a.staging.GetPost(id)
	if err != nil {
		a.respondServiceError(c, err, "获取文章失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// CreatePost 创建一篇只有草稿内容的新文章。
func (a *API) CreatePost(c *gin.Context) {
	var payload postDraftRequest
	if !bindJSON(c, &payload, "请求参数格式不正确") {
		return
	}

	post, err := a.staging.CreatePost(payload.toInput(currentUserID(c)))
	if err != nil {
		a.respondServiceError(c, err, "创建文章失败")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "草稿已创建", "post": post})
}

// StagePostDraft 保存草稿字段，不影响线上内容。
func (a *API) StagePostDraft(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}
	var payload postDraftRequest
	if !bindJSON(c, &payload, "请求参数格式不正确") {
		return
	}

	post, err := a.staging.StagePost(id, payload.toInput(currentUserID(c)))
	if err != nil {
		a.respondServiceError(c, err, "保存草稿失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "草稿已保存", "post": post})
}

// PublishPost 将草稿提升为线上内容，首次发布时按设置通知订阅者。
func (a *API) PublishPost(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}

	result, err := a.publisher.Publish(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, "发布失败")
		return
	}

	response := gin.H{
		"message":          "文章已发布",
		"post":             result.Post,
		"firstPublication": result.FirstPublication,
	}
	if result.ExcerptErr != nil {
		response["warning"] = "摘要更新失败，将在下次发布时重试"
	}
	if result.Notification != nil {
		response["notification"] = result.Notification
	}
	c.JSON(http.StatusOK, response)
}

// UnpublishPost 撤回文章并清空发布时间。
func (a *API) UnpublishPost(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}
	post, err := a.publisher.Unpublish(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, "撤回失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "文章已撤回", "post": post})
}

// NotifyPost 重新向订阅者发送文章通知。
func (a *API) NotifyPost(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}

	result, err := a.publisher.Notify(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, "发送通知失败")
		return
	}

	status := http.StatusOK
	switch result.Reason {
	case service.ReasonDisabled, service.ReasonConfigIncomplete:
		status = http.StatusConflict
	case service.ReasonNotFound:
		status = http.StatusNotFound
	case service.ReasonConnectFailed:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"notification": result})
}

// DeletePost 软删除文章。
func (a *API) DeletePost(c *gin.Context) {
	id, ok := pathID(c, "文章")
	if !ok {
		return
	}
	if err := a.staging.DeletePost(id); err != nil {
		a.respondServiceError(c, err, "删除文章失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "文章已删除"})
}
