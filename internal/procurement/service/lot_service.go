package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"gorm.io/gorm"
)

// LotService 标段服务
type LotService struct {
	lotRepo     *repository.LotRepository
	itemRepo    *repository.ItemRepository
	processRepo *repository.ProcessRepository
	db          *gorm.DB
	items       *ItemService
}

// NewLotService 创建标段服务
func NewLotService(repos *repository.Repositories, db *gorm.DB, items *ItemService) *LotService {
	return &LotService{
		lotRepo:     repos.Lot,
		itemRepo:    repos.Item,
		processRepo: repos.Process,
		db:          db,
		items:       items,
	}
}

// CreateLotRequest 创建标段请求
type CreateLotRequest struct {
	Number                 int             `json:"number"` // 0表示自动顺延
	Description            string          `json:"description" binding:"required"`
	NoPlan                 bool            `json:"no_plan"`
	NoPlanJustification    string          `json:"no_plan_justification"`
	SmallBusinessExclusive bool            `json:"small_business_exclusive"`
	ReservedQuota          bool            `json:"reserved_quota"`
	ReservedQuotaPercent   decimal.Decimal `json:"reserved_quota_percent"`
}

// UpdateLotRequest 更新标段请求
type UpdateLotRequest struct {
	Number                 *int             `json:"number"`
	Description            *string          `json:"description"`
	SmallBusinessExclusive *bool            `json:"small_business_exclusive"`
	ReservedQuota          *bool            `json:"reserved_quota"`
	ReservedQuotaPercent   *decimal.Decimal `json:"reserved_quota_percent"`
	Status                 *string          `json:"status"`
}

// List 流程的标段
func (s *LotService) List(ctx context.Context, processID string) ([]entity.Lot, error) {
	return s.lotRepo.ListByProcess(ctx, processID)
}

// Get 标段详情
func (s *LotService) Get(ctx context.Context, id string) (*entity.Lot, error) {
	lot, err := s.lotRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lot", id)
		}
		return nil, fmt.Errorf("find lot: %w", err)
	}
	return lot, nil
}

// Create 创建标段，第一个标段把流程标记为分标段
func (s *LotService) Create(ctx context.Context, processID string, req *CreateLotRequest) (*entity.Lot, error) {
	p, err := s.items.editableProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "lot description is required")
	}
	if err := entity.CheckNoPlanJustification(req.NoPlan, req.NoPlanJustification); err != nil {
		return nil, err
	}
	if err := checkQuota(req.ReservedQuota, req.ReservedQuotaPercent); err != nil {
		return nil, err
	}

	number := req.Number
	if number <= 0 {
		max, err := s.lotRepo.MaxNumber(ctx, processID)
		if err != nil {
			return nil, fmt.Errorf("next lot number: %w", err)
		}
		number = max + 1
	} else {
		exists, err := s.lotRepo.ExistsNumber(ctx, processID, number, "")
		if err != nil {
			return nil, fmt.Errorf("check lot number: %w", err)
		}
		if exists {
			return nil, apperr.Conflict(apperr.CodeDuplicateNumber, "lot %d already exists in process %s", number, p.ProcessNumber)
		}
	}

	lot := &entity.Lot{
		ID:                     uuid.New().String()[:32],
		ProcessID:              processID,
		Number:                 number,
		Description:            strings.TrimSpace(req.Description),
		NoPlan:                 req.NoPlan,
		NoPlanJustification:    req.NoPlanJustification,
		SmallBusinessExclusive: req.SmallBusinessExclusive,
		ReservedQuota:          req.ReservedQuota,
		ReservedQuotaPercent:   req.ReservedQuotaPercent,
		EstimatedTotal:         decimal.Zero,
		AwardedTotal:           decimal.Zero,
		Status:                 entity.LotStatusOpen,
	}
	if err := s.lotRepo.Create(ctx, lot); err != nil {
		return nil, fmt.Errorf("create lot: %w", err)
	}

	if !p.UsesLots {
		if err := s.processRepo.UpdateFields(ctx, processID, map[string]interface{}{"uses_lots": true}); err != nil {
			return nil, fmt.Errorf("flag process lots: %w", err)
		}
	}
	return lot, nil
}

// CreateBatch 批量创建标段
func (s *LotService) CreateBatch(ctx context.Context, processID string, reqs []CreateLotRequest) ([]entity.Lot, error) {
	created := make([]entity.Lot, 0, len(reqs))
	for i := range reqs {
		lot, err := s.Create(ctx, processID, &reqs[i])
		if err != nil {
			return created, fmt.Errorf("lot %d: %w", i+1, err)
		}
		created = append(created, *lot)
	}
	return created, nil
}

// Update 更新标段
func (s *LotService) Update(ctx context.Context, id string, req *UpdateLotRequest) (*entity.Lot, error) {
	lot, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.items.editableProcess(ctx, lot.ProcessID); err != nil {
		return nil, err
	}

	if req.Number != nil && *req.Number != lot.Number {
		if *req.Number <= 0 {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "lot number must be positive")
		}
		exists, err := s.lotRepo.ExistsNumber(ctx, lot.ProcessID, *req.Number, lot.ID)
		if err != nil {
			return nil, fmt.Errorf("check lot number: %w", err)
		}
		if exists {
			return nil, apperr.Conflict(apperr.CodeDuplicateNumber, "lot %d already exists", *req.Number)
		}
		lot.Number = *req.Number
	}
	if req.Description != nil {
		if strings.TrimSpace(*req.Description) == "" {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "lot description cannot be empty")
		}
		lot.Description = strings.TrimSpace(*req.Description)
	}
	if req.SmallBusinessExclusive != nil {
		lot.SmallBusinessExclusive = *req.SmallBusinessExclusive
	}
	if req.ReservedQuota != nil {
		lot.ReservedQuota = *req.ReservedQuota
	}
	if req.ReservedQuotaPercent != nil {
		lot.ReservedQuotaPercent = *req.ReservedQuotaPercent
	}
	if err := checkQuota(lot.ReservedQuota, lot.ReservedQuotaPercent); err != nil {
		return nil, err
	}
	if req.Status != nil {
		switch *req.Status {
		case entity.LotStatusOpen, entity.LotStatusAwarded, entity.LotStatusCancelled,
			entity.LotStatusNoBid, entity.LotStatusFailed:
			lot.Status = *req.Status
		default:
			return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown lot status %s", *req.Status)
		}
	}

	if err := s.lotRepo.Update(ctx, lot); err != nil {
		return nil, fmt.Errorf("update lot: %w", err)
	}
	return lot, nil
}

// Delete 删除空标段，删除最后一个标段时流程不再分标段
func (s *LotService) Delete(ctx context.Context, id string) error {
	lot, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.items.editableProcess(ctx, lot.ProcessID); err != nil {
		return err
	}

	n, err := s.itemRepo.CountByLot(ctx, id)
	if err != nil {
		return fmt.Errorf("count lot items: %w", err)
	}
	if n > 0 {
		return apperr.Validation(apperr.CodeLotNotEmpty, "lot %d still has %d items", lot.Number, n)
	}

	if err := s.lotRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete lot: %w", err)
	}

	remaining, err := s.lotRepo.CountByProcess(ctx, lot.ProcessID)
	if err != nil {
		return fmt.Errorf("count lots: %w", err)
	}
	if remaining == 0 {
		return s.processRepo.UpdateFields(ctx, lot.ProcessID, map[string]interface{}{"uses_lots": false})
	}
	return nil
}

// AddItem 行项加入标段
func (s *LotService) AddItem(ctx context.Context, lotID, itemID, userID string) (*entity.LineItem, error) {
	lot, err := s.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.items.AttachToLot(ctx, item, lot, userID); err != nil {
		return nil, err
	}
	return item, nil
}

// MoveItem 行项移到另一个标段
func (s *LotService) MoveItem(ctx context.Context, itemID, toLotID, userID string) (*entity.LineItem, error) {
	return s.AddItem(ctx, toLotID, itemID, userID)
}

// RemoveItem 行项移出标段
func (s *LotService) RemoveItem(ctx context.Context, lotID, itemID, userID string) (*entity.LineItem, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.LotID == nil || *item.LotID != lotID {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "item %d is not in this lot", item.Number)
	}
	if err := s.items.DetachFromLot(ctx, item, userID); err != nil {
		return nil, err
	}
	return item, nil
}

// Renumber 按当前顺序把标段重新编号为1..n
func (s *LotService) Renumber(ctx context.Context, processID string) ([]entity.Lot, error) {
	if _, err := s.items.editableProcess(ctx, processID); err != nil {
		return nil, err
	}
	lots, err := s.lotRepo.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先挪到负数区间，避免唯一索引冲突
		for _, lot := range lots {
			if err := tx.Model(&entity.Lot{}).Where("id = ?", lot.ID).Update("number", -lot.Number).Error; err != nil {
				return err
			}
		}
		for i := range lots {
			lots[i].Number = i + 1
			if err := tx.Model(&entity.Lot{}).Where("id = ?", lots[i].ID).Update("number", lots[i].Number).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("renumber lots: %w", err)
	}
	return lots, nil
}

// RecalculateTotals 重算流程全部标段金额
func (s *LotService) RecalculateTotals(ctx context.Context, processID string) ([]entity.Lot, error) {
	lots, err := s.lotRepo.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	for i := range lots {
		items, err := s.itemRepo.ListByLot(ctx, lots[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list lot items: %w", err)
		}
		lots[i].RecalculateTotals(items)
		if err := s.lotRepo.Update(ctx, &lots[i]); err != nil {
			return nil, fmt.Errorf("update lot totals: %w", err)
		}
	}
	return lots, nil
}

func checkQuota(reserved bool, percent decimal.Decimal) error {
	if !reserved {
		return nil
	}
	if !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(25)) {
		return apperr.Validation(apperr.CodeInvalidInput, "reserved quota must be between 0 and 25 percent")
	}
	return nil
}
