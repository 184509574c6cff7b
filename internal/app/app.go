package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/controller"
	"speakedu_backend/internal/repository"
	"speakedu_backend/internal/service"
	"speakedu_backend/pkg/configwatcher"
	"speakedu_backend/pkg/database"
	"speakedu_backend/pkg/logger"
	"speakedu_backend/pkg/monitoring"
	"speakedu_backend/pkg/security"
	"speakedu_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	definition *repository.ContentDefinitionRepository
	unit       *repository.ContentUnitRepository
	assignment *repository.AssignmentRepository
	progress   *repository.ProgressRepository
}

type services struct {
	auth       *service.AuthService
	storage    *service.StorageService
	content    *service.ContentService
	scoring    *service.ScoringService
	versioning *service.VersioningService
	analysis   *service.AnalysisService
	recording  *service.RecordingService
	assignment *service.AssignmentService
	grading    *service.GradingService
}

type controllers struct {
	auth       *controller.AuthController
	content    *controller.ContentController
	assignment *controller.AssignmentController
	grading    *controller.GradingController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		definition: repository.NewContentDefinitionRepository(db),
		unit:       repository.NewContentUnitRepository(db),
		assignment: repository.NewAssignmentRepository(db),
		progress:   repository.NewProgressRepository(db, rdb),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.content = service.NewContentService(repos.definition)
	s.scoring = service.NewScoringService(cfg.Scoring)
	s.versioning = service.NewVersioningService(repos.definition, repos.unit)
	s.analysis = service.NewAnalysisService(s.scoring, repos.progress, repos.assignment, cfg.Analysis)
	s.recording = service.NewRecordingService(s.storage, repos.progress, repos.unit, repos.assignment, s.analysis, cfg.Recording)
	s.assignment = service.NewAssignmentService(repos.assignment, repos.unit, repos.progress, repos.user,
		s.versioning, s.analysis, db, rdb)
	s.grading = service.NewGradingService(repos.assignment, repos.progress, s.assignment)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		content:    controller.NewContentController(s.content),
		assignment: controller.NewAssignmentController(s.assignment, s.recording, s.analysis),
		grading:    controller.NewGradingController(s.assignment, s.grading, repos.progress),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 6000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	// 回填扫描：兜住客户端重试丢失的迟到评分
	if a.Config.Analysis.BackfillSweep {
		go func() {
			ticker := time.NewTicker(time.Minute)
			for range ticker.C {
				if err := s.analysis.BackfillSweep(); err != nil {
					logger.Log.Error("backfill sweep error", zap.Error(err))
				}
			}
		}()
	}

	// 编排器回收
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		for range ticker.C {
			s.analysis.DropIdle()
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	// 监控初始化
	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		_, err := tracing.InitTracer("speakedu-platform", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	// 配置热加载：回调方自行决定哪些字段可热生效
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		app.Config.CORS = newCfg.CORS
		app.Config.Analysis = newCfg.Analysis
		app.Config.Recording = newCfg.Recording
		logger.Log.Info("config reloaded")
	})
	go configwatcher.WatchConfig("configs/config.yaml", cfg, func(raw interface{}) {
		newCfg, ok := raw.(*config.Config)
		if !ok {
			return
		}
		for _, cb := range app.configCallbacks {
			cb(newCfg)
		}
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 编排器全部出表，不再接受新的结算
	if a.services != nil && a.services.analysis != nil {
		a.services.analysis.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
