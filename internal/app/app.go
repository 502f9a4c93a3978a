package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/controller"
	"quizmark_backend/internal/repository"
	"quizmark_backend/internal/service"
	"quizmark_backend/pkg/configwatcher"
	"quizmark_backend/pkg/database"
	"quizmark_backend/pkg/logger"
	"quizmark_backend/pkg/monitoring"
	"quizmark_backend/pkg/security"
	"quizmark_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConfigDir 配置文件所在目录
const ConfigDir = "configs"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	quiz     *repository.QuizRepository
	roster   *repository.RosterRepository
	analysis *repository.AnalysisRepository
}

type services struct {
	storage     *service.StorageService
	toolchain   *service.AMCToolchain
	quiz        *service.QuizService
	compile     *service.CompileService
	analysis    *service.AnalysisService
	association *service.AssociationService
	hub         *service.StatusHub
}

type controllers struct {
	quiz        *controller.QuizController
	amc         *controller.AMCController
	analysis    *controller.AnalysisController
	association *controller.AssociationController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) reloadConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		quiz:     repository.NewQuizRepository(db),
		roster:   repository.NewRosterRepository(db),
		analysis: repository.NewAnalysisRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	var locker service.QuizLocker
	if rdb != nil {
		locker = service.NewRedisLocker(rdb)
	} else {
		locker = service.NewLocalLocker()
	}

	ws := service.NewWorkspace(cfg.Workspace.Root)
	s.storage = service.NewStorageService(cfg)
	s.toolchain = service.NewAMCToolchain(cfg.Toolchain, cfg.Analysis)

	s.quiz = service.NewQuizService(repos.quiz, ws, s.storage)
	s.compile = service.NewCompileService(repos.quiz, repos.roster, ws, s.toolchain, s.storage, locker, cfg.Analysis.LockTTL())
	s.analysis = service.NewAnalysisService(repos.quiz, repos.roster, repos.analysis, ws, s.toolchain, s.storage, locker, cfg.Analysis)
	s.hub = service.NewStatusHub(rdb)
	s.analysis.Hub = s.hub
	s.association = service.NewAssociationService(repos.quiz, repos.analysis, ws, locker, cfg.Analysis)

	// 阈值、超时等分析参数支持热更新
	a.RegisterConfigCallback(func(c *config.Config) {
		s.toolchain.Reload(c.Toolchain, c.Analysis)
		s.analysis.Reload(c.Analysis)
		logger.Log.Info("Analysis settings reloaded",
			zap.Float64("default_threshold", c.Analysis.DefaultThreshold),
			zap.Int("timeout_seconds", c.Toolchain.TimeoutSeconds))
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		quiz:        controller.NewQuizController(s.quiz),
		amc:         controller.NewAMCController(s.compile),
		analysis:    controller.NewAnalysisController(s.analysis, s.hub),
		association: controller.NewAssociationController(s.association),
		health:      controller.NewHealthController(db, rdb, a.Config.Workspace.Root),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	debug := cfg.Server.Mode == gin.DebugMode
	db, err := database.InitDB(&cfg.Database, debug, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("quizmark", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	configFile := filepath.Join(ConfigDir, "config.yaml")
	if err := configwatcher.Watch(ctx, configFile, a.reloadConfig); err != nil {
		logger.Log.Warn("Config hot reload disabled", zap.String("file", configFile), zap.Error(err))
	}
	go a.services.hub.Run(ctx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.services.hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
