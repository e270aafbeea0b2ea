package billing

import (
	"time"

	"sparkdate/internal/domain/billing/handler"
	"sparkdate/internal/domain/billing/processor"
	"sparkdate/internal/domain/billing/service"
	"sparkdate/internal/domain/promo"
	userRepo "sparkdate/internal/domain/user/repository"
	"sparkdate/internal/pkg/config"
	"sparkdate/internal/pkg/middleware"
	"sparkdate/internal/pkg/registry"
	"sparkdate/pkg/logger"

	"github.com/gin-gonic/gin"
)

// BillingModule 订阅支付模块
type BillingModule struct{}

func init() {
	registry.Register(&BillingModule{})
}

func (m *BillingModule) Name() string {
	return "billing"
}

func (m *BillingModule) Priority() int {
	// 依赖用户模块和兑换码模块
	return 20
}

func (m *BillingModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig

	// 1. 支付处理器
	proc, err := processor.NewStripeProcessor()
	if err != nil {
		// 未配置 Stripe 时跳过整个模块，兑换码免费开通路径不受影响
		logger.Log.Warn("stripe not configured, billing module disabled: " + err.Error())
		return nil
	}

	// 2. 依赖注入
	uRepo := userRepo.NewUserRepository(ctx.DB)
	deduper := service.NewRedisDeduper(ctx.Redis, 72*time.Hour)

	timeout := time.Duration(cfg.Stripe.TimeoutSeconds) * time.Second
	checkoutService := service.NewCheckoutService(proc, cfg.Plans, promo.Module.Redeemer, timeout)
	webhookService := service.NewWebhookService(proc, deduper, uRepo, promo.Module.Redeemer, cfg.Plans)

	bHandler := handler.NewBillingHandler(checkoutService, webhookService)

	// 3. 路由注册
	setupRoutes(ctx.Router, bHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.BillingHandler) {
	g := r.Group("/billing")

	// 支付回调 (无需鉴权，但需验签)
	g.POST("/webhook", h.Webhook)

	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware())
	{
		auth.POST("/checkout-session", h.CreateCheckoutSession)
	}
}
