package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/valleteclab/portaldcp/internal/config"
	planrepo "github.com/valleteclab/portaldcp/internal/planning/repository"
	planservice "github.com/valleteclab/portaldcp/internal/planning/service"
	procrepo "github.com/valleteclab/portaldcp/internal/procurement/repository"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	pubrepo "github.com/valleteclab/portaldcp/internal/publication/repository"
	pubservice "github.com/valleteclab/portaldcp/internal/publication/service"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
	"github.com/valleteclab/portaldcp/internal/shared/storage"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app 命令行共用的服务集合
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	proc   *procservice.Services
	plans  *planservice.PlanService
	sync   *pubservice.SyncService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Log.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	}
	log, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	procRepos := procrepo.NewRepositories(db)
	planRepos := planrepo.NewRepositories(db)
	proc := procservice.NewServices(procRepos, db, log)
	plans := planservice.NewPlanService(planRepos, db)
	plans.SetLogger(log)
	ledger := planservice.NewLedgerService(planRepos, procRepos, db)
	ledger.SetLogger(log)
	proc.SetPlanConsumer(ledger)

	registry := pncp.NewClient(pncp.Config{
		BaseURL:  cfg.Registry.BaseURL,
		Login:    cfg.Registry.Login,
		Password: cfg.Registry.Password,
		Timeout:  cfg.Registry.Timeout,
		TokenTTL: cfg.Registry.TokenTTL,
	}, nil)
	registry.SetLogger(log.Named("pncp"))

	deps := pubservice.Deps{
		Registry:  registry,
		Records:   pubrepo.NewSyncRepository(db),
		Processes: proc.Process,
		Items:     proc.Item,
		Plans:     plans,
	}
	if store, err := storage.NewMinioStore(cfg.MinIO); err == nil {
		deps.Documents = store
	}
	sync := pubservice.NewSyncService(deps, pubservice.Settings{
		CNPJ:     cfg.Registry.CNPJ,
		OrgName:  cfg.Registry.OrgName,
		UnitCode: cfg.Registry.UnitCode,
		UnitName: cfg.Registry.UnitName,
		AppURL:   cfg.Registry.AppURL,
	})
	sync.SetLogger(log.Named("sync"))

	return &app{cfg: cfg, logger: log, db: db, proc: proc, plans: plans, sync: sync}, nil
}

func (a *app) queueClient() *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     a.cfg.Redis.Addr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}

func (a *app) Close() {
	_ = a.logger.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// emit 输出结果，--json时输出JSON
func emit(v interface{}, text string) error {
	if !jsonOutput {
		fmt.Fprintln(os.Stdout, text)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
