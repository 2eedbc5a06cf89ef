package handler

import (
	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, locker lock.Locker, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, locker, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
		}

		// 记账相关
		ledger := api.Group("/ledger")
		{
			ledger.POST("/post", h.PostTransaction)
			ledger.GET("/transactions", h.ListTransactions)
		}

		// 奖励相关
		reward := api.Group("/reward")
		{
			reward.POST("/create", h.CreateReward)
			reward.POST("/update", h.UpdateReward)
			reward.POST("/deactivate", h.DeactivateReward)
			reward.GET("/list", h.ListRewards)
			reward.POST("/redeem", h.Redeem)
		}

		// 管理相关
		admin := api.Group("/admin")
		{
			admin.POST("/adjust", h.Adjust)
			admin.POST("/settings", h.UpsertSettings)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
