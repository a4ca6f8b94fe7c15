package router

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stagepress/internal/handler"
	"github.com/stagepress/internal/middleware"
)

// Options 控制路由层的外部配置。
type Options struct {
	SessionSecret string
	UploadDir     string
	UploadURLPath string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// SecureCookie marks the session cookie Secure (production only).
	SecureCookie bool
	// PublicLimiter throttles /subscribe and /unsubscribe per client IP; nil disables it.
	PublicLimiter *middleware.IPRateLimiter
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	r := gin.New()
	if gin.Mode() == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	// 配置会话中间件
	store := cookie.NewStore([]byte(opts.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("stagepress_session", store))

	if opts.UploadDir != "" {
		urlPath := "/" + strings.Trim(opts.UploadURLPath, "/")
		if urlPath == "/" {
			urlPath = "/uploads"
		}
		r.Static(urlPath, opts.UploadDir)
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/healthz", api.HealthCheck)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// 公开的订阅与退订
	public := r.Group("/")
	if opts.PublicLimiter != nil {
		public.Use(opts.PublicLimiter.Handler())
	}
	public.POST("/subscribe", api.Subscribe)
	public.GET("/unsubscribe", api.ConfirmUnsubscribe)
	public.POST("/unsubscribe", api.Unsubscribe)

	// 后台管理路由
	admin := r.Group("/admin")
	{
		admin.POST("/login", api.Login)
		admin.GET("/logout", api.Logout)

		// 需要认证的后台路由
		auth := admin.Group("/api")
		auth.Use(handler.AuthRequired())
		{
			auth.POST("/posts", api.CreatePost)
			auth.GET("/posts/:id", api.GetPost)
			auth.PUT("/posts/:id/draft", api.StagePostDraft)
			auth.POST("/posts/:id/publish", api.PublishPost)
			auth.POST("/posts/:id/unpublish", api.UnpublishPost)
			auth.POST("/posts/:id/notify", api.NotifyPost)
			auth.DELETE("/posts/:id", api.DeletePost)
			auth.POST("/uploads", api.UploadImage)

			auth.GET("/settings", api.GetSettings)
			auth.PUT("/settings/draft", api.StageSettings)
			auth.POST("/settings/publish", api.PublishSettings)
			auth.PUT("/settings/mail", api.UpdateMailSettings)

			auth.GET("/subscribers", api.ListSubscribers)
			auth.POST("/subscribers/:id/archive", api.ArchiveSubscriber)
			auth.POST("/subscribers/:id/reactivate", api.ReactivateSubscriber)
		}
	}

	return r
}
