package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/service"
	"go.uber.org/zap"
)

type settingsDraftRequest struct {
	AboutHTML           *string `json:"aboutHtml"`
	FooterHTML          *string `json:"footerHtml"`
	NewsletterIntroHTML *string `json:"newsletterIntroHtml"`
	SidebarHTML         *string `json:"sidebarHtml"`
}

type mailSettingsRequest struct {
	SiteTitle            string `json:"siteTitle"`
	AuthorName           string `json:"authorName"`
	SMTPHost             string `json:"smtpHost"`
	SMTPPort             int    `json:"smtpPort"`
	SMTPUsername         string `json:"smtpUsername"`
	SMTPPassword         string `json:"smtpPassword"`
	SMTPTLS              string `json:"smtpTls"`
	MailFrom             string `json:"mailFrom"`
	MailFromName         string `json:"mailFromName"`
	RateLimit            int    `json:"rateLimit"`
	RatePeriodSeconds    int    `json:"ratePeriodSeconds"`
	SendDelayMillis      int    `json:"sendDelayMillis"`
	ConnectionLossPolicy string `json:"connectionLossPolicy"`
	NotifyOnPublish      bool   `json:"notifyOnPublish"`
	EmailFullPost        bool   `json:"emailFullPost"`
}

func (r mailSettingsRequest) toInput() service.MailSettingsInput {
	return service.MailSettingsInput{
		SiteTitle:            r.SiteTitle,
		AuthorName:           r.AuthorName,
		SMTPHost:             r.SMTPHost,
		SMTPPort:             r.SMTPPort,
		SMTPUsername:         r.SMTPUsername,
		SMTPPassword:         r.SMTPPassword,
		SMTPTLS:              r.SMTPTLS,
		MailFrom:             r.MailFrom,
		MailFromName:         r.MailFromName,
		RateLimit:            r.RateLimit,
		RatePeriodSeconds:    r.RatePeriodSeconds,
		SendDelayMillis:      r.SendDelayMillis,
		ConnectionLossPolicy: r.ConnectionLossPolicy,
		NotifyOnPublish:      r.NotifyOnPublish,
		EmailFullPost:        r.EmailFullPost,
	}
}

func settingsPayload(settings *db.Settings) gin.H {
	return gin.H{
		"settings":        settings,
		"hasSmtpPassword": settings.SMTPPasswordEnc != "",
	}
}

// GetSettings 返回站点设置（不含明文密码）。
func (a *API) GetSettings(c *gin.Context) {
	settings, err := a.staging.GetSettings()
	if err != nil {
		a.logger.Error("load settings", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "获取设置失败")
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}

// StageSettings 保存设置中的富文本草稿。
func (a *API) StageSettings(c *gin.Context) {
	var payload settingsDraftRequest
	if !bindJSON(c, &payload, "请求参数格式不正确") {
		return
	}

	settings, err := a.staging.StageSettings(service.SettingsDraftInput{
		AboutHTML:           payload.AboutHTML,
		FooterHTML:          payload.FooterHTML,
		NewsletterIntroHTML: payload.NewsletterIntroHTML,
		SidebarHTML:         payload.SidebarHTML,
	})
	if err != nil {
		a.logger.Error("stage settings", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "保存设置草稿失败")
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}

// PublishSettings 将设置草稿提升为线上内容。
func (a *API) PublishSettings(c *gin.Context) {
	settings, err := a.publisher.PromoteSettings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "发布设置失败")
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}

// UpdateMailSettings 保存发信、限流与通知开关，立即生效。
func (a *API) UpdateMailSettings(c *gin.Context) {
	var payload mailSettingsRequest
	if !bindJSON(c, &payload, "请填写完整的邮件设置") {
		return
	}

	settings, err := a.staging.UpdateMailSettings(payload.toInput())
	if err != nil {
		a.respondServiceError(c, err, "保存邮件设置失败")
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}
