package service

import (
	"context"
	"time"

	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Clock 时间来源，测试中可替换
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// PlanConsumer 行项继承计划关联后登记预算消耗（由年度计划账本实现）
// tx非nil时在调用方事务内登记，失败随行项写入一起回滚
type PlanConsumer interface {
	ConsumeForItem(ctx context.Context, tx *gorm.DB, item *entity.LineItem) error
}

// Services 采购流程服务集合
type Services struct {
	Process *ProcessService
	Lot     *LotService
	Item    *ItemService
	Sweeper *Sweeper
}

// NewServices 创建采购流程服务集合
func NewServices(repos *repository.Repositories, db *gorm.DB, logger *zap.Logger) *Services {
	process := NewProcessService(repos, db)
	process.SetLogger(logger)

	item := NewItemService(repos, db)
	item.SetLogger(logger)

	lot := NewLotService(repos, db, item)

	sweeper := NewSweeper(repos.Process, SystemClock{})
	sweeper.SetLogger(logger)

	return &Services{
		Process: process,
		Lot:     lot,
		Item:    item,
		Sweeper: sweeper,
	}
}

// SetPlanConsumer 注入计划消耗登记（年度计划模块初始化后调用）
func (s *Services) SetPlanConsumer(c PlanConsumer) {
	s.Item.SetPlanConsumer(c)
}
