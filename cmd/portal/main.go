package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/valleteclab/portaldcp/internal/config"
	"github.com/valleteclab/portaldcp/internal/handler"
	"github.com/valleteclab/portaldcp/internal/middleware"
	planentity "github.com/valleteclab/portaldcp/internal/planning/entity"
	planrepo "github.com/valleteclab/portaldcp/internal/planning/repository"
	planservice "github.com/valleteclab/portaldcp/internal/planning/service"
	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	procrepo "github.com/valleteclab/portaldcp/internal/procurement/repository"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	pubentity "github.com/valleteclab/portaldcp/internal/publication/entity"
	pubrepo "github.com/valleteclab/portaldcp/internal/publication/repository"
	pubservice "github.com/valleteclab/portaldcp/internal/publication/service"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
	"github.com/valleteclab/portaldcp/internal/shared/queue"
	"github.com/valleteclab/portaldcp/internal/shared/storage"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting portaldcp service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	db, err := initDatabase(cfg.Database, cfg.Server.Mode)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(entities()...); err != nil {
		zapLogger.Fatal("AutoMigrate failed", zap.Error(err))
	}

	// 平台token缓存：多实例部署时放在Redis
	var tokenCache pncp.TokenCache
	if cfg.Registry.TokenCache == "redis" {
		redisClient := initRedis(cfg.Redis)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis not available, token cache falls back to login", zap.Error(err))
		}
		defer redisClient.Close()
		tokenCache = pncp.NewRedisTokenCache(redisClient, cfg.Registry.Login)
	}

	registry := pncp.NewClient(pncp.Config{
		BaseURL:  cfg.Registry.BaseURL,
		Login:    cfg.Registry.Login,
		Password: cfg.Registry.Password,
		Timeout:  cfg.Registry.Timeout,
		TokenTTL: cfg.Registry.TokenTTL,
	}, tokenCache)
	registry.SetLogger(zapLogger.Named("pncp"))

	// 附件存储
	var documents handler.DocumentWriter
	var documentSource pubservice.DocumentStore
	if store, err := storage.NewMinioStore(cfg.MinIO); err != nil {
		zapLogger.Warn("Document storage disabled", zap.Error(err))
	} else {
		if err := store.EnsureBucket(context.Background()); err != nil {
			zapLogger.Warn("Ensure bucket failed", zap.Error(err))
		}
		documents = store
		documentSource = store
	}

	// 服务
	procRepos := procrepo.NewRepositories(db)
	planRepos := planrepo.NewRepositories(db)

	procSvcs := procservice.NewServices(procRepos, db, zapLogger)

	planSvc := planservice.NewPlanService(planRepos, db)
	planSvc.SetLogger(zapLogger)
	demandSvc := planservice.NewDemandService(planRepos)
	ledger := planservice.NewLedgerService(planRepos, procRepos, db)
	ledger.SetLogger(zapLogger)
	procSvcs.SetPlanConsumer(ledger)

	syncSvc := pubservice.NewSyncService(pubservice.Deps{
		Registry:  registry,
		Records:   pubrepo.NewSyncRepository(db),
		Processes: procSvcs.Process,
		Items:     procSvcs.Item,
		Plans:     planSvc,
		Documents: documentSource,
	}, pubservice.Settings{
		CNPJ:     cfg.Registry.CNPJ,
		OrgName:  cfg.Registry.OrgName,
		UnitCode: cfg.Registry.UnitCode,
		UnitName: cfg.Registry.UnitName,
		AppURL:   cfg.Registry.AppURL,
	})
	syncSvc.SetLogger(zapLogger.Named("sync"))

	handlers := handler.NewHandlers(procSvcs, planSvc, demandSvc, ledger, syncSvc, documents)

	// 定时推进收标窗口
	scheduler := cron.New()
	if cfg.Sweeper.Enabled {
		if _, err := procSvcs.Sweeper.Schedule(scheduler, cfg.Sweeper.Spec); err != nil {
			zapLogger.Fatal("Failed to schedule sweeper", zap.Error(err))
		}
		scheduler.Start()
		zapLogger.Info("Sweeper scheduled", zap.String("spec", cfg.Sweeper.Spec))
	}

	// 人工重试队列
	var queueServer *asynq.Server
	if cfg.Queue.Enabled {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queueClient := asynq.NewClient(redisOpt)
		defer queueClient.Close()
		handlers.Publication.SetEnqueuer(func(ctx context.Context, p queue.RetryPayload) (string, error) {
			return queue.EnqueueRetry(ctx, queueClient, p)
		})

		queueServer = asynq.NewServer(redisOpt, asynq.Config{Concurrency: cfg.Queue.Concurrency})
		processor := queue.NewProcessor(func(ctx context.Context, recordID, operatorID string) error {
			_, err := syncSvc.Retry(ctx, recordID, operatorID)
			return err
		}, zapLogger.Named("queue"))
		if err := queueServer.Start(processor.Handler()); err != nil {
			zapLogger.Fatal("Failed to start queue server", zap.Error(err))
		}
		zapLogger.Info("Queue server started", zap.Int("concurrency", cfg.Queue.Concurrency))
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(zapLogger, "/health/live", "/health/ready"))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg, db)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	if queueServer != nil {
		queueServer.Shutdown()
	}

	zapLogger.Info("Server exited")
}

func entities() []interface{} {
	return []interface{}{
		&procentity.Process{},
		&procentity.Lot{},
		&procentity.LineItem{},
		&procentity.ActivityLog{},
		&planentity.AnnualPlan{},
		&planentity.PlanLine{},
		&planentity.PlanConsumption{},
		&planentity.Demand{},
		&planentity.DemandLine{},
		&pubentity.SyncRecord{},
	}
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, mode string) (*gorm.DB, error) {
	level := logger.Info
	if mode == "release" {
		level = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config, db *gorm.DB) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
	handler.Register(authorized, h)
}
