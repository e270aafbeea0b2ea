package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "sparkdate/internal/domain/billing"
	_ "sparkdate/internal/domain/promo"
	_ "sparkdate/internal/domain/user"
	"sparkdate/internal/pkg/config"
	"sparkdate/internal/pkg/middleware"
	"sparkdate/internal/pkg/push"
	"sparkdate/internal/pkg/registry"
	"sparkdate/pkg/database"
	"sparkdate/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	config.LoadConfig()
	logger.InitLogger(config.GlobalConfig.App.Debug)
	defer logger.Sync()

	// 2. 基础设施
	db := database.InitDatabase()
	rdb := database.InitRedis()

	// 推送服务可选，未配置时不阻塞启动
	if err := push.InitPushService(); err != nil {
		logger.Log.Warn("push service not available: " + err.Error())
	}

	// 3. HTTP 引擎与全局中间件
	gin.SetMode(config.GlobalConfig.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.RateLimitMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 按优先级初始化业务模块
	moduleCtx := &registry.ModuleContext{
		DB:     db,
		Redis:  rdb,
		Router: r,
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		logger.Log.Fatal("failed to init modules", zap.Error(err))
	}

	// 5. 启动与优雅退出
	srv := &http.Server{
		Addr:    ":" + config.GlobalConfig.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Log.Info("server listening", zap.String("port", config.GlobalConfig.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
}
