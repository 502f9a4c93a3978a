// @title QuizMark 阅卷服务 API
// @version 1.0
// @description 试卷编排、LaTeX 生成与扫描阅卷复核服务。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"fmt"
	"log"
	"quizmark_backend/internal/app"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	tokenUser := flag.Uint("issue-token", 0, "为指定用户ID签发访问令牌后退出（本地调试用）")
	tokenRole := flag.String("token-role", util.RoleTeacher, "签发令牌的角色")
	flag.Parse()

	cfg, err := config.LoadConfig(app.ConfigDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *tokenUser > 0 {
		token, err := util.GenerateJWT(*tokenUser, *tokenRole, "", cfg.JWT.Secret, cfg.JWT.ExpireTime)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		return
	}

	application.Run()
}
