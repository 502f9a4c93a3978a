package controller

import (
	"net/http"
	"os"
	"quizmark_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	DB            *gorm.DB
	Redis         *redis.Client
	WorkspaceRoot string
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, workspaceRoot string) *HealthController {
	return &HealthController{DB: db, Redis: rdb, WorkspaceRoot: workspaceRoot}
}

// @Summary 健康检查
// @Description 检查数据库、Redis 和工作目录
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	sqlDB, err := c.DB.DB()
	if err != nil {
		util.InternalServerError(ctx)
		return
	}
	if err := sqlDB.PingContext(ctx.Request.Context()); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	components := gin.H{"database": "up", "redis": "disabled"}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx.Request.Context()).Err(); err != nil {
			util.Error(ctx, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
		components["redis"] = "up"
	}
	if info, err := os.Stat(c.WorkspaceRoot); err != nil || !info.IsDir() {
		util.Error(ctx, http.StatusServiceUnavailable, "Workspace unavailable")
		return
	}
	components["workspace"] = "up"

	util.Success(ctx, gin.H{
		"status":     "ok",
		"components": components,
	})
}
