// 从 YAML 文件批量导入试卷并生成 LaTeX 源文件
//
// 适用于首次部署时迁移已有题库，导入后的试卷归属于 -owner 指定的教师。
//
// 用法: go run scripts/import_quiz.go -file quiz.yaml -owner 1

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/service"
	"quizmark_backend/pkg/database"
	"quizmark_backend/pkg/logger"
	"time"
)

func main() {
	file := flag.String("file", "", "试卷 YAML 文件")
	owner := flag.Uint("owner", 0, "试卷所有者的用户ID")
	noLatex := flag.Bool("no-latex", false, "只导入题目，不生成 sujet.tex")
	flag.Parse()

	if *file == "" || *owner == 0 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("无法读取试卷文件: %v", err)
	}
	def, err := service.ParseQuizDefinition(data)
	if err != nil {
		log.Fatalf("解析试卷文件失败: %v", err)
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode == "debug", false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	quizRepo := repository.NewQuizRepository(db)
	ws := service.NewWorkspace(cfg.Workspace.Root)
	storage := service.NewStorageService(cfg)
	quizzes := service.NewQuizService(quizRepo, ws, storage)

	quiz, err := quizzes.ImportQuiz(*owner, def)
	if err != nil {
		log.Fatalf("导入失败: %v", err)
	}
	log.Printf("已导入试卷 %s (%s)，共 %d 题", quiz.ID, quiz.Title, quiz.QuestionCount)

	if *noLatex {
		return
	}
	compile := service.NewCompileService(quizRepo, repository.NewRosterRepository(db), ws,
		service.NewAMCToolchain(cfg.Toolchain, cfg.Analysis), storage, service.NewLocalLocker(), time.Minute)
	if _, err := compile.GenerateSource(context.Background(), quiz.ID); err != nil {
		log.Fatalf("生成 LaTeX 失败: %v", err)
	}
	log.Println("已生成 sujet.tex")
}
