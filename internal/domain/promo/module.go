package promo

import (
	"time"

	"sparkdate/internal/domain/promo/handler"
	"sparkdate/internal/domain/promo/repository"
	"sparkdate/internal/domain/promo/service"
	userRepo "sparkdate/internal/domain/user/repository"
	"sparkdate/internal/pkg/config"
	"sparkdate/internal/pkg/middleware"
	"sparkdate/internal/pkg/registry"
	"sparkdate/internal/pkg/worker"

	"github.com/gin-gonic/gin"
)

// PromoModule 兑换码模块
type PromoModule struct {
	// Redeemer 导出给订阅模块：回调确认后推进 pending 流水
	Redeemer service.PromoRedeemer
}

var Module = &PromoModule{}

func init() {
	registry.Register(Module)
}

func (m *PromoModule) Name() string {
	return "promo"
}

func (m *PromoModule) Priority() int {
	// 依赖用户模块
	return 10
}

func (m *PromoModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	pRepo := repository.NewPromoRepository(ctx.DB)
	uRepo := userRepo.NewUserRepository(ctx.DB)

	// 计数补偿池 + 读修复扫描，超过 24 小时未支付的流水过期
	pool := worker.NewRetryPool(pRepo, 2, 256)
	pool.Start()
	pool.StartSweeper(10*time.Minute, 5*time.Minute, 24*time.Hour)

	validator := service.NewPromoValidator(pRepo)
	redeemer := service.NewPromoRedeemer(pRepo, uRepo, validator, pool, config.GlobalConfig.Plans)
	creator := service.NewPromoCreator(pRepo)
	m.Redeemer = redeemer

	pHandler := handler.NewPromoHandler(validator, redeemer, creator)

	// 2. 路由注册
	setupRoutes(ctx.Router, pHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.PromoHandler) {
	g := r.Group("/promos")

	authorized := g.Group("")
	authorized.Use(middleware.AuthMiddleware())
	{
		authorized.GET("/validate", h.ValidatePromoCode)
		authorized.POST("/apply", h.ApplyPromoCode)

		admin := authorized.Group("")
		admin.Use(middleware.AdminMiddleware())
		{
			admin.POST("/", h.CreatePromoCode)
		}
	}
}
