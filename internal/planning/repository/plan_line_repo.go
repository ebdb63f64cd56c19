package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"gorm.io/gorm"
)

// PlanLineRepository 计划行仓库
type PlanLineRepository struct {
	db *gorm.DB
}

func NewPlanLineRepository(db *gorm.DB) *PlanLineRepository {
	return &PlanLineRepository{db: db}
}

// WithTx 绑定事务
func (r *PlanLineRepository) WithTx(tx *gorm.DB) *PlanLineRepository {
	return &PlanLineRepository{db: tx}
}

// FindByID 查找计划行
func (r *PlanLineRepository) FindByID(ctx context.Context, id string) (*entity.PlanLine, error) {
	var line entity.PlanLine
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&line).Error; err != nil {
		return nil, notFound(err)
	}
	return &line, nil
}

// ListByPlan 计划全部行
func (r *PlanLineRepository) ListByPlan(ctx context.Context, planID string, filters map[string]string) ([]entity.PlanLine, error) {
	var lines []entity.PlanLine
	query := r.db.WithContext(ctx).Where("plan_id = ?", planID)
	if category := filters["category"]; category != "" {
		query = query.Where("category = ?", category)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("number ASC").Find(&lines).Error
	return lines, err
}

// MaxNumber 计划内最大行号
func (r *PlanLineRepository) MaxNumber(ctx context.Context, planID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&entity.PlanLine{}).
		Select("COALESCE(MAX(number), 0)").
		Where("plan_id = ?", planID).
		Scan(&max).Error
	return max, err
}

// Create 创建计划行
func (r *PlanLineRepository) Create(ctx context.Context, line *entity.PlanLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// Update 更新计划行（不覆盖消耗字段）
func (r *PlanLineRepository) Update(ctx context.Context, line *entity.PlanLine) error {
	return r.db.WithContext(ctx).Omit("consumed_value", "exhausted", "process_id").Save(line).Error
}

// Delete 删除计划行
func (r *PlanLineRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.PlanLine{}).Error
}

// Consume 原子增加消耗：仅当余额为正且足够时写入，同时刷新耗尽标记。
// 返回影响行数，0表示余额不足或已耗尽
func (r *PlanLineRepository) Consume(ctx context.Context, id string, amount decimal.Decimal, processID *string) (int64, error) {
	fields := map[string]interface{}{
		"consumed_value": gorm.Expr("consumed_value + ?", amount),
		"exhausted":      gorm.Expr("estimated_value - consumed_value - ? <= 0", amount),
		"updated_at":     time.Now(),
	}
	if processID != nil {
		fields["process_id"] = gorm.Expr("COALESCE(process_id, ?)", *processID)
	}
	res := r.db.WithContext(ctx).Model(&entity.PlanLine{}).
		Where("id = ?", id).
		Where("estimated_value - consumed_value > 0").
		Where("estimated_value - consumed_value >= ?", amount).
		Updates(fields)
	return res.RowsAffected, res.Error
}

// SetStatus 修改计划行状态
func (r *PlanLineRepository) SetStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&entity.PlanLine{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

// SetRegistrySequence 回写平台序号
func (r *PlanLineRepository) SetRegistrySequence(ctx context.Context, id string, sequence int) error {
	return r.db.WithContext(ctx).Model(&entity.PlanLine{}).Where("id = ?", id).
		Updates(map[string]interface{}{"registry_sequence": sequence, "updated_at": time.Now()}).Error
}

// ClearRegistrySequences 计划从平台撤回后清空各行序号
func (r *PlanLineRepository) ClearRegistrySequences(ctx context.Context, planID string) error {
	return r.db.WithContext(ctx).Model(&entity.PlanLine{}).Where("plan_id = ?", planID).
		Updates(map[string]interface{}{"registry_sequence": 0, "updated_at": time.Now()}).Error
}
