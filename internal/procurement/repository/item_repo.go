package repository

import (
	"context"

	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"gorm.io/gorm"
)

// ItemRepository 采购行项仓库
type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// WithTx 绑定事务
func (r *ItemRepository) WithTx(tx *gorm.DB) *ItemRepository {
	return &ItemRepository{db: tx}
}

// FindByID 查找行项
func (r *ItemRepository) FindByID(ctx context.Context, id string) (*entity.LineItem, error) {
	var item entity.LineItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// ListByProcess 流程行项，按标段号、行号排序
func (r *ItemRepository) ListByProcess(ctx context.Context, processID string) ([]entity.LineItem, error) {
	var items []entity.LineItem
	err := r.db.WithContext(ctx).
		Where("process_id = ?", processID).
		Order("number ASC").
		Find(&items).Error
	return items, err
}

// ListByLot 标段行项
func (r *ItemRepository) ListByLot(ctx context.Context, lotID string) ([]entity.LineItem, error) {
	var items []entity.LineItem
	err := r.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("number ASC").
		Find(&items).Error
	return items, err
}

// CountByLot 标段行项数
func (r *ItemRepository) CountByLot(ctx context.Context, lotID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("lot_id = ?", lotID).Count(&n).Error
	return n, err
}

// MaxNumber 流程内最大行号
func (r *ItemRepository) MaxNumber(ctx context.Context, processID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&entity.LineItem{}).
		Select("COALESCE(MAX(number), 0)").
		Where("process_id = ?", processID).
		Scan(&max).Error
	return max, err
}

// Create 创建行项
func (r *ItemRepository) Create(ctx context.Context, item *entity.LineItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// Update 更新行项（BeforeSave重算金额）
func (r *ItemRepository) Update(ctx context.Context, item *entity.LineItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// PropagatePlanLinkToLot 把计划关联同步到标段内全部行项
func (r *ItemRepository) PropagatePlanLinkToLot(ctx context.Context, lotID string, planLineID *string, noPlan bool, justification string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.LineItem{}).
		Where("lot_id = ?", lotID).
		Updates(map[string]interface{}{
			"plan_line_id":          planLineID,
			"no_plan":               noPlan,
			"no_plan_justification": justification,
		})
	return res.RowsAffected, res.Error
}

// PropagatePlanLinkToProcess 把计划关联同步到流程全部行项
func (r *ItemRepository) PropagatePlanLinkToProcess(ctx context.Context, processID string, planLineID *string, noPlan bool, justification string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.LineItem{}).
		Where("process_id = ?", processID).
		Updates(map[string]interface{}{
			"plan_line_id":          planLineID,
			"no_plan":               noPlan,
			"no_plan_justification": justification,
		})
	return res.RowsAffected, res.Error
}

// Delete 删除行项
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.LineItem{}).Error
}

// SetLot 调整行项所属标段
func (r *ItemRepository) SetLot(ctx context.Context, id string, lotID *string) error {
	return r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("id = ?", id).Update("lot_id", lotID).Error
}

// SetPlanLink 写入单个行项的计划关联
func (r *ItemRepository) SetPlanLink(ctx context.Context, id string, planLineID *string, noPlan bool, justification string) error {
	return r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"plan_line_id":          planLineID,
			"no_plan":               noPlan,
			"no_plan_justification": justification,
		}).Error
}
