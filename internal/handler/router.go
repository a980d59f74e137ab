package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		txns := api.Group("/transactions")
		{
			txns.POST("", h.CreateTransaction)
			txns.GET("", h.ListTransactions)
			txns.GET("/:id", h.GetTransaction)
			txns.GET("/order/:order_reference", h.GetTransactionByOrderReference)
			txns.POST("/order/:order_reference/reconcile", h.ReconcileTransaction)
		}
	}

	webhooks := r.Group("/api/webhooks")
	{
		webhooks.POST("/infinitepay", h.InfinitePayWebhook)
		webhooks.GET("/infinitepay/health", h.WebhookHealth)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
