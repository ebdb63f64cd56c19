package repository

import (
	"context"

	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LotRepository 标段仓库
type LotRepository struct {
	db *gorm.DB
}

func NewLotRepository(db *gorm.DB) *LotRepository {
	return &LotRepository{db: db}
}

// WithTx 绑定事务
func (r *LotRepository) WithTx(tx *gorm.DB) *LotRepository {
	return &LotRepository{db: tx}
}

// FindByID 查找标段
func (r *LotRepository) FindByID(ctx context.Context, id string) (*entity.Lot, error) {
	var lot entity.Lot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&lot).Error; err != nil {
		return nil, notFound(err)
	}
	return &lot, nil
}

// ListByProcess 流程的全部标段，按编号
func (r *LotRepository) ListByProcess(ctx context.Context, processID string) ([]entity.Lot, error) {
	var lots []entity.Lot
	err := r.db.WithContext(ctx).
		Where("process_id = ?", processID).
		Order("number ASC").
		Find(&lots).Error
	return lots, err
}

// ExistsNumber 同一流程内编号是否已存在
func (r *LotRepository) ExistsNumber(ctx context.Context, processID string, number int, excludeID string) (bool, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(&entity.Lot{}).
		Where("process_id = ? AND number = ?", processID, number)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&n).Error
	return n > 0, err
}

// CountByProcess 流程标段数
func (r *LotRepository) CountByProcess(ctx context.Context, processID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Lot{}).Where("process_id = ?", processID).Count(&n).Error
	return n, err
}

// MaxNumber 流程内最大标段号
func (r *LotRepository) MaxNumber(ctx context.Context, processID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&entity.Lot{}).
		Select("COALESCE(MAX(number), 0)").
		Where("process_id = ?", processID).
		Scan(&max).Error
	return max, err
}

// Create 创建标段
func (r *LotRepository) Create(ctx context.Context, lot *entity.Lot) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(lot).Error
}

// Update 更新标段
func (r *LotRepository) Update(ctx context.Context, lot *entity.Lot) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(lot).Error
}

// Delete 删除标段
func (r *LotRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Lot{}).Error
}

// SetPlanLink 写入标段计划关联
func (r *LotRepository) SetPlanLink(ctx context.Context, id string, planLineID *string, noPlan bool, justification string) error {
	return r.db.WithContext(ctx).Model(&entity.Lot{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"plan_line_id":          planLineID,
			"no_plan":               noPlan,
			"no_plan_justification": justification,
		}).Error
}
