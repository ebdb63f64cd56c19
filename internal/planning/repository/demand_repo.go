package repository

import (
	"context"
	"time"

	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DemandRepository 需求单仓库
type DemandRepository struct {
	db *gorm.DB
}

func NewDemandRepository(db *gorm.DB) *DemandRepository {
	return &DemandRepository{db: db}
}

// WithTx 绑定事务
func (r *DemandRepository) WithTx(tx *gorm.DB) *DemandRepository {
	return &DemandRepository{db: tx}
}

// FindAll 查询需求单
func (r *DemandRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Demand, int64, error) {
	var items []entity.Demand
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Demand{})
	if orgID := filters["org_id"]; orgID != "" {
		query = query.Where("org_id = ?", orgID)
	}
	if year := filters["year"]; year != "" {
		query = query.Where("year = ?", year)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// FindByID 查找需求单（含需求行）
func (r *DemandRepository) FindByID(ctx context.Context, id string) (*entity.Demand, error) {
	var d entity.Demand
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// CountByYear 机构当年需求数（生成编号）
func (r *DemandRepository) CountByYear(ctx context.Context, orgID string, year int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Demand{}).Where("org_id = ? AND year = ?", orgID, year).Count(&n).Error
	return n, err
}

// Create 创建需求单及需求行
func (r *DemandRepository) Create(ctx context.Context, d *entity.Demand) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// Update 更新需求单主数据
func (r *DemandRepository) Update(ctx context.Context, d *entity.Demand) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(d).Error
}

// Delete 删除需求单
func (r *DemandRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("demand_id = ?", id).Delete(&entity.DemandLine{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entity.Demand{}).Error
	})
}

// MarkConsolidated 仅当需求仍为已审批时标记为已汇总，返回影响行数
func (r *DemandRepository) MarkConsolidated(ctx context.Context, id, planID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.Demand{}).
		Where("id = ? AND status = ?", id, entity.DemandStatusApproved).
		Updates(map[string]interface{}{
			"status":          entity.DemandStatusConsolidated,
			"plan_id":         planID,
			"consolidated_at": at,
			"updated_at":      at,
		})
	return res.RowsAffected, res.Error
}

// LinkLine 需求行指向汇总生成的计划行
func (r *DemandRepository) LinkLine(ctx context.Context, lineID, planLineID string) error {
	return r.db.WithContext(ctx).Model(&entity.DemandLine{}).Where("id = ?", lineID).
		Updates(map[string]interface{}{"plan_line_id": planLineID, "updated_at": time.Now()}).Error
}
