package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"assessment_backend/internal/config"
	"assessment_backend/internal/controller"
	"assessment_backend/internal/grading"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/service"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/configwatcher"
	"assessment_backend/pkg/database"
	"assessment_backend/pkg/locker"
	"assessment_backend/pkg/logger"
	"assessment_backend/pkg/monitoring"
	"assessment_backend/pkg/security"
	"assessment_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	stopWatch       context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	assessment *repository.AssessmentRepository
	attempt    *repository.AttemptRepository
	document   *repository.DocumentRepository
}

type services struct {
	auth        *service.AuthService
	assessment  *service.AssessmentService
	attempt     *service.AttemptService
	grading     *service.GradingService
	generation  *service.GenerationService
	document    *service.DocumentService
	providers   *service.ProviderPool
	equivalence *service.EquivalenceService
}

type controllers struct {
	auth       *controller.AuthController
	assessment *controller.AssessmentController
	attempt    *controller.AttemptController
	grading    *controller.GradingController
	document   *controller.DocumentController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		assessment: repository.NewAssessmentRepository(db),
		attempt:    repository.NewAttemptRepository(db),
		document:   repository.NewDocumentRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.providers = service.NewProviderPoolFromConfig(cfg.AI)
	if s.providers.Len() == 0 {
		logger.Log.Warn("No AI provider configured, generation and equivalence checks are disabled")
	}

	var checker grading.EquivalenceChecker
	if s.providers.Len() > 0 {
		s.equivalence = service.NewEquivalenceService(s.providers)
		checker = s.equivalence
	}

	s.auth = service.NewAuthService(repos.user, cfg)
	s.assessment = service.NewAssessmentService(repos.assessment)
	s.attempt = service.NewAttemptService(repos.assessment, repos.attempt)
	s.grading = service.NewGradingService(db, repos.assessment, repos.attempt, locker.New(rdb), checker, cfg.Grading)

	extractors := service.CompositeExtractor{service.PlainTextExtractor{}}
	if cfg.Ingestion.TikaURL != "" {
		extractors = append(extractors, service.NewTikaExtractor(cfg.Ingestion.TikaURL, time.Duration(cfg.AI.TimeoutSeconds)*time.Second))
	}
	var embedder service.Embedder
	if s.providers.Len() > 0 {
		embedder = service.PoolEmbedder{Pool: s.providers}
	}
	s.document = service.NewDocumentService(
		repos.document,
		repos.assessment,
		service.NewStorageProvider(&cfg.Storage),
		extractors,
		embedder,
		cfg.Ingestion.ChunkWords,
		cfg.Ingestion.ContextChunk,
	)
	s.generation = service.NewGenerationService(s.assessment, s.providers, s.document)

	a.RegisterConfigCallback(func(c *config.Config) {
		s.grading.ApplyConfig(c.Grading)
		logger.Log.Info("Grading config applied",
			zap.Bool("equivalenceEnabled", c.Grading.EquivalenceEnabled),
			zap.Duration("equivalenceTimeout", c.Grading.EquivalenceTimeout()))
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		assessment: controller.NewAssessmentController(s.assessment, s.generation),
		attempt:    controller.NewAttemptController(s.attempt),
		grading:    controller.NewGradingController(s.grading),
		document:   controller.NewDocumentController(s.document),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, nil))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// watchConfig 配置文件变更时依次执行回调
func (a *App) watchConfig() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel

	err := configwatcher.Watch(ctx, filepath.Join("configs", "config.yaml"), func(c *config.Config) {
		for _, cb := range a.configCallbacks {
			cb(c)
		}
	})
	if err != nil {
		logger.Log.Warn("Config hot reload disabled", zap.Error(err))
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
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
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()
	util.RegisterValidators()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("assessment-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.watchConfig()

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

	if a.stopWatch != nil {
		a.stopWatch()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	log.Println("Server exiting")
}
