package handler

import (
	"viplinks/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由，gatherer 为 nil 时不暴露 /metrics
func SetupRouter(h *Handler, cfg *config.Config, gatherer prometheus.Gatherer) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	limiter := NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 支付渠道回调
		webhooks := api.Group("/webhooks", limiter.Middleware())
		{
			webhooks.POST("/payment", h.PaymentWebhook)
		}

		// 外部定时器
		cron := api.Group("/cron", CronSecretMiddleware(cfg.Auth.CronSecret))
		{
			cron.POST("/dispatch", h.TriggerDispatch)
		}

		// 下单 / 查询
		sales := api.Group("/sales", limiter.Middleware())
		{
			sales.POST("", h.CreateSale)
			sales.GET("/:saleNo", h.GetSale)
		}

		// 卖家接口
		seller := api.Group("", JWTAuthMiddleware(cfg.Auth.JWTSecret))
		{
			seller.GET("/deliveries", h.ListDeliveries)
			seller.POST("/servers", h.RegisterServer)
			seller.POST("/servers/:id/validate-player", h.ValidatePlayer)
		}
	}

	// 游戏服务器插件
	plugin := r.Group("/api/plugin", limiter.Middleware())
	{
		plugin.GET("/health/:serverKey", h.PluginHealth)
		plugin.GET("/pending-deliveries/:serverKey", h.PendingDeliveries)
		plugin.POST("/mark-delivered", h.MarkDelivered)
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
