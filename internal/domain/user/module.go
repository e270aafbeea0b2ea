package user

import (
	"sparkdate/internal/domain/user/handler"
	"sparkdate/internal/domain/user/repository"
	"sparkdate/internal/domain/user/service"
	"sparkdate/internal/pkg/middleware"
	"sparkdate/internal/pkg/otp"
	"sparkdate/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// UserModule 用户模块
type UserModule struct{}

func init() {
	// 自动注册模块
	registry.Register(&UserModule{})
}

func (m *UserModule) Name() string {
	return "user"
}

func (m *UserModule) Priority() int {
	// 用户模块优先级最高，兑换码和订阅模块都依赖它
	return 1
}

func (m *UserModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	userRepo := repository.NewUserRepository(ctx.DB)
	otpService := otp.NewOTPService(ctx.Redis)
	userService := service.NewUserService(userRepo, otpService)
	userHandler := handler.NewUserHandler(userService)

	// 2. 路由注册
	setupRoutes(ctx.Router, userHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.UserHandler) {
	// 公开路由
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.LoginOrRegister) // 登录/注册
		authGroup.POST("/otp", h.SendOTP)           // 发送验证码
	}

	// 受保护的路由
	userGroup := r.Group("/users")
	userGroup.Use(middleware.AuthMiddleware())
	{
		userGroup.GET("/me", h.GetMe)
		userGroup.GET("/:id", h.GetUser)
		userGroup.PUT("/me", h.UpdateProfile)
		userGroup.DELETE("/me", h.DeleteUser)

		// 管理端
		adminGroup := userGroup.Group("")
		adminGroup.Use(middleware.AdminMiddleware())
		{
			adminGroup.GET("", h.GetUsers)
		}
	}
}
