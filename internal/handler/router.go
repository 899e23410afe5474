package handler

import (
	"consumesystem/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 消费相关
		consume := api.Group("/consume")
		{
			consume.POST("/execute", h.ConsumeExecute)
			consume.GET("/result", h.ConsumeQuery)
			consume.GET("/permission", h.CheckPermission)
			consume.GET("/limit", h.CheckLimit)
			consume.GET("/records", h.ListRecords)
		}

		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/recharge", h.Recharge)
			account.POST("/freeze", h.Freeze)
			account.POST("/unfreeze", h.Unfreeze)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
