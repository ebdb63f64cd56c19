package repository

import (
	"context"
	"errors"

	"github.com/valleteclab/portaldcp/internal/publication/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// SyncRepository 平台同步记录仓库
type SyncRepository struct {
	db *gorm.DB
}

func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// WithTx 绑定事务
func (r *SyncRepository) WithTx(tx *gorm.DB) *SyncRepository {
	return &SyncRepository{db: tx}
}

// FindByID 按ID查询
func (r *SyncRepository) FindByID(ctx context.Context, id string) (*entity.SyncRecord, error) {
	var rec entity.SyncRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindByKindTarget 按类型+目标查询，不存在返回nil
func (r *SyncRepository) FindByKindTarget(ctx context.Context, kind, targetID string) (*entity.SyncRecord, error) {
	var rec entity.SyncRecord
	err := r.db.WithContext(ctx).Where("kind = ? AND target_id = ?", kind, targetID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create 新建记录
func (r *SyncRepository) Create(ctx context.Context, rec *entity.SyncRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Save 保存记录
func (r *SyncRepository) Save(ctx context.Context, rec *entity.SyncRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// ListByStatus 按状态查询，最近尝试的在前
func (r *SyncRepository) ListByStatus(ctx context.Context, status string, limit int) ([]entity.SyncRecord, error) {
	var recs []entity.SyncRecord
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&recs).Error
	return recs, err
}

// ListByTarget 某个目标的全部记录
func (r *SyncRepository) ListByTarget(ctx context.Context, targetID string) ([]entity.SyncRecord, error) {
	var recs []entity.SyncRecord
	err := r.db.WithContext(ctx).Where("target_id = ?", targetID).Order("created_at ASC").Find(&recs).Error
	return recs, err
}

// ListByProcess 某个流程下的全部记录（流程本身、行项、结果、文档）
func (r *SyncRepository) ListByProcess(ctx context.Context, processID string) ([]entity.SyncRecord, error) {
	var recs []entity.SyncRecord
	err := r.db.WithContext(ctx).Where("process_id = ?", processID).Order("kind ASC, created_at ASC").Find(&recs).Error
	return recs, err
}

// CountRow 分组计数
type CountRow struct {
	Kind   string
	Status string
	Count  int64
}

// CountByKindStatus 按类型和状态分组计数
func (r *SyncRepository) CountByKindStatus(ctx context.Context) ([]CountRow, error) {
	var rows []CountRow
	err := r.db.WithContext(ctx).Model(&entity.SyncRecord{}).
		Select("kind, status, COUNT(*) AS count").
		Group("kind, status").
		Scan(&rows).Error
	return rows, err
}
