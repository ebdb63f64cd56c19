package repository

import (
	"context"
	"errors"
	"time"

	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlanRepository 年度计划仓库
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// WithTx 绑定事务
func (r *PlanRepository) WithTx(tx *gorm.DB) *PlanRepository {
	return &PlanRepository{db: tx}
}

// FindAll 查询计划列表
func (r *PlanRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.AnnualPlan, int64, error) {
	var items []entity.AnnualPlan
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.AnnualPlan{})
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
	err := query.Order("year DESC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// FindByID 查找计划（含计划行）
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	var plan entity.AnnualPlan
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// Get 只读取计划主数据
func (r *PlanRepository) Get(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	var plan entity.AnnualPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// GetForUpdate 行锁读取计划（用于顺序编号）
func (r *PlanRepository) GetForUpdate(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	var plan entity.AnnualPlan
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// FindByOrgYear 机构年度计划，不存在返回nil
func (r *PlanRepository) FindByOrgYear(ctx context.Context, orgID string, year int) (*entity.AnnualPlan, error) {
	var plan entity.AnnualPlan
	err := r.db.WithContext(ctx).Where("org_id = ? AND year = ?", orgID, year).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// Create 创建计划
func (r *PlanRepository) Create(ctx context.Context, plan *entity.AnnualPlan) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(plan).Error
}

// Update 更新计划
func (r *PlanRepository) Update(ctx context.Context, plan *entity.AnnualPlan) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(plan).Error
}

// UpdateFields 按字段更新
func (r *PlanRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&entity.AnnualPlan{}).Where("id = ?", id).Updates(fields).Error
}

// Delete 删除计划及计划行
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("plan_id = ?", id).Delete(&entity.PlanLine{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entity.AnnualPlan{}).Error
	})
}
