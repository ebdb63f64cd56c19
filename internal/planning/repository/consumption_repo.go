package repository

import (
	"context"

	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConsumptionRepository 计划消耗记录仓库
type ConsumptionRepository struct {
	db *gorm.DB
}

func NewConsumptionRepository(db *gorm.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

// WithTx 绑定事务
func (r *ConsumptionRepository) WithTx(tx *gorm.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: tx}
}

// Insert 写入消耗记录；同一计划行的幂等键已存在时不写入并返回false
func (r *ConsumptionRepository) Insert(ctx context.Context, c *entity.PlanConsumption) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_line_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByLine 计划行的消耗记录
func (r *ConsumptionRepository) ListByLine(ctx context.Context, lineID string) ([]entity.PlanConsumption, error) {
	var items []entity.PlanConsumption
	err := r.db.WithContext(ctx).Where("plan_line_id = ?", lineID).Order("created_at ASC").Find(&items).Error
	return items, err
}
