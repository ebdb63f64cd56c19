package repository

import (
	"context"
	"errors"
	"time"

	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessRepository 采购流程仓库
type ProcessRepository struct {
	db *gorm.DB
}

func NewProcessRepository(db *gorm.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

// WithTx 绑定事务
func (r *ProcessRepository) WithTx(tx *gorm.DB) *ProcessRepository {
	return &ProcessRepository{db: tx}
}

// FindAll 查询流程列表
func (r *ProcessRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Process, int64, error) {
	var items []entity.Process
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Process{})

	if orgID := filters["org_id"]; orgID != "" {
		query = query.Where("org_id = ?", orgID)
	}
	if p := filters["phase"]; p != "" {
		query = query.Where("phase = ?", p)
	}
	if year := filters["year"]; year != "" {
		query = query.Where("year = ?", year)
	}
	if modality := filters["modality"]; modality != "" {
		query = query.Where("modality = ?", modality)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("process_number ILIKE ? OR object ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("year DESC, sequence DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找流程（含标段、行项）
func (r *ProcessRepository) FindByID(ctx context.Context, id string) (*entity.Process, error) {
	var p entity.Process
	err := r.db.WithContext(ctx).
		Preload("Lots", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindByNumber 根据流程编号查找（防重复），不存在返回nil
func (r *ProcessRepository) FindByNumber(ctx context.Context, number string) (*entity.Process, error) {
	var p entity.Process
	err := r.db.WithContext(ctx).Where("process_number = ?", number).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// CountByYear 当年流程数量（用于生成序号）
func (r *ProcessRepository) CountByYear(ctx context.Context, year int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Process{}).Where("year = ?", year).Count(&n).Error
	return n, err
}

// Create 创建流程
func (r *ProcessRepository) Create(ctx context.Context, p *entity.Process) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

// Update 更新流程主数据（不级联保存标段/行项）
func (r *ProcessRepository) Update(ctx context.Context, p *entity.Process) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error
}

// Delete 删除流程及其标段、行项
func (r *ProcessRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("process_id = ?", id).Delete(&entity.LineItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("process_id = ?", id).Delete(&entity.Lot{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entity.Process{}).Error
	})
}

// CompareAndSetPhase 乐观并发：仅当阶段仍为from时写入to
func (r *ProcessRepository) CompareAndSetPhase(ctx context.Context, id string, from, to phase.Phase) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Process{}).
		Where("id = ? AND phase = ?", id, from).
		Updates(map[string]interface{}{
			"phase":      to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindDueForIntake 已发布/质疑期且收标窗口已开始未结束
func (r *ProcessRepository) FindDueForIntake(ctx context.Context, now time.Time) ([]entity.Process, error) {
	var items []entity.Process
	err := r.db.WithContext(ctx).
		Where("phase IN ?", []phase.Phase{phase.Published, phase.ChallengePeriod}).
		Where("intake_start IS NOT NULL AND intake_start <= ?", now).
		Where("intake_end IS NOT NULL AND intake_end > ?", now).
		Find(&items).Error
	return items, err
}

// FindDueForAnalysis 收标中且收标已截止
func (r *ProcessRepository) FindDueForAnalysis(ctx context.Context, now time.Time) ([]entity.Process, error) {
	var items []entity.Process
	err := r.db.WithContext(ctx).
		Where("phase = ?", phase.ProposalIntake).
		Where("intake_end IS NOT NULL AND intake_end <= ?", now).
		Find(&items).Error
	return items, err
}

// Get 只读取流程主数据
func (r *ProcessRepository) Get(ctx context.Context, id string) (*entity.Process, error) {
	var p entity.Process
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// UpdateFields 按字段更新
func (r *ProcessRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&entity.Process{}).Where("id = ?", id).Updates(fields).Error
}

// ListByPlanLine 引用某计划行的流程
func (r *ProcessRepository) ListByPlanLine(ctx context.Context, planLineID string) ([]entity.Process, error) {
	var items []entity.Process
	err := r.db.WithContext(ctx).Where("plan_line_id = ?", planLineID).Find(&items).Error
	return items, err
}
