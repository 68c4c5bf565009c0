package server

import (
	"payment-core/internal/handler"
	"payment-core/internal/handler/middleware"
	"payment-core/internal/service/idempotency"
	"payment-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h *handler.Handler, cache *idempotency.Cache) *gin.Engine {
	// 0. 初始化监控指标
	monitor.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组: 所有业务接口都要求账户，变更类接口走幂等
	api := r.Group("/api/v1", middleware.Account(), middleware.Idempotency(cache))
	{
		api.GET("/balances", h.ListBalances)
		api.GET("/balances/:currency", h.GetBalance)

		api.GET("/locations", h.ListLocations)
		api.POST("/locations", h.CreateLocation)
		api.GET("/transactions", h.ListTransactions)

		api.POST("/payments", h.CreatePayment)
		api.GET("/payments", h.ListPayments)
		api.GET("/payments/:id", h.GetPayment)

		api.POST("/mandates", h.DelegatePayment)
		api.GET("/mandates", h.ListMandates)
		api.GET("/mandates/:id", h.GetMandate)
		api.POST("/mandates/:id/revoke", h.RevokeMandate)

		api.POST("/captures", h.CapturePayment)
		api.GET("/captures", h.ListCaptures)
		api.GET("/captures/:id", h.GetCapture)

		api.POST("/bridge-transfers", h.CreateBridgeTransfer)
		api.GET("/bridge-transfers", h.ListBridgeTransfers)
		api.GET("/bridge-transfers/:id", h.GetBridgeTransfer)
		api.POST("/bridge-transfers/:id/retry", h.RetryBridgeTransfer)

		api.POST("/sync", h.SyncAccount)
		api.DELETE("/account", h.EraseAccount)
	}

	return r
}
