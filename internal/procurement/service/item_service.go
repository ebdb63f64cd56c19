package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ItemService 采购行项服务
type ItemService struct {
	itemRepo    *repository.ItemRepository
	lotRepo     *repository.LotRepository
	processRepo *repository.ProcessRepository
	logRepo     *repository.ActivityLogRepository
	db          *gorm.DB
	consumer    PlanConsumer
	logger      *zap.Logger
}

// NewItemService 创建行项服务
func NewItemService(repos *repository.Repositories, db *gorm.DB) *ItemService {
	return &ItemService{
		itemRepo:    repos.Item,
		lotRepo:     repos.Lot,
		processRepo: repos.Process,
		logRepo:     repos.ActivityLog,
		db:          db,
		logger:      zap.NewNop(),
	}
}

// SetLogger 设置日志
func (s *ItemService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetPlanConsumer 注入计划消耗登记
func (s *ItemService) SetPlanConsumer(c PlanConsumer) {
	s.consumer = c
}

// CreateItemRequest 创建行项请求
type CreateItemRequest struct {
	LotID               *string         `json:"lot_id"`
	Description         string          `json:"description" binding:"required"`
	CatalogCode         string          `json:"catalog_code"`
	ItemType            string          `json:"item_type"`
	Unit                string          `json:"unit" binding:"required"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitEstimated       decimal.Decimal `json:"unit_estimated"`
	Participation       string          `json:"participation"`
	PlanLineID          *string         `json:"plan_line_id"`
	NoPlan              bool            `json:"no_plan"`
	NoPlanJustification string          `json:"no_plan_justification"`
	Notes               string          `json:"notes"`
}

// UpdateItemRequest 更新行项请求
type UpdateItemRequest struct {
	Description   *string          `json:"description"`
	CatalogCode   *string          `json:"catalog_code"`
	ItemType      *string          `json:"item_type"`
	Unit          *string          `json:"unit"`
	Quantity      *decimal.Decimal `json:"quantity"`
	UnitEstimated *decimal.Decimal `json:"unit_estimated"`
	Participation *string          `json:"participation"`
	Notes         *string          `json:"notes"`
}

// AwardItemRequest 授予请求
type AwardItemRequest struct {
	SupplierID   string          `json:"supplier_id"`
	SupplierName string          `json:"supplier_name" binding:"required"`
	UnitValue    decimal.Decimal `json:"unit_value"`
}

// ProcessSummary 流程金额汇总
type ProcessSummary struct {
	ItemCount       int             `json:"item_count"`
	CountByStatus   map[string]int  `json:"count_by_status"`
	EstimatedTotal  decimal.Decimal `json:"estimated_total"`
	AwardedTotal    decimal.Decimal `json:"awarded_total"`
	AwardedEstimate decimal.Decimal `json:"awarded_estimate"` // 已授予行项的预估合计
	Savings         decimal.Decimal `json:"savings"`
	SavingsPercent  decimal.Decimal `json:"savings_percent"`
}

// Get 行项详情
func (s *ItemService) Get(ctx context.Context, id string) (*entity.LineItem, error) {
	item, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("item", id)
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return item, nil
}

// ListByProcess 流程行项
func (s *ItemService) ListByProcess(ctx context.Context, processID string) ([]entity.LineItem, error) {
	return s.itemRepo.ListByProcess(ctx, processID)
}

// Create 创建行项：编号顺延，按关联方式继承计划，登记消耗失败时回滚创建
func (s *ItemService) Create(ctx context.Context, processID, userID string, req *CreateItemRequest) (*entity.LineItem, error) {
	p, err := s.editableProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if err := checkItemInput(req.Description, req.Unit, req.Quantity, req.UnitEstimated); err != nil {
		return nil, err
	}

	var lot *entity.Lot
	if req.LotID != nil && *req.LotID != "" {
		lot, err = s.lotOfProcess(ctx, *req.LotID, processID)
		if err != nil {
			return nil, err
		}
	}

	maxNumber, err := s.itemRepo.MaxNumber(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("next item number: %w", err)
	}

	item := &entity.LineItem{
		ID:            uuid.New().String()[:32],
		ProcessID:     processID,
		Number:        maxNumber + 1,
		Description:   strings.TrimSpace(req.Description),
		CatalogCode:   req.CatalogCode,
		ItemType:      defaultString(req.ItemType, entity.ItemTypeMaterial),
		Unit:          req.Unit,
		Quantity:      req.Quantity,
		UnitEstimated: req.UnitEstimated,
		Participation: defaultString(req.Participation, entity.ParticipationOpen),
		Status:        entity.ItemStatusActive,
		Notes:         req.Notes,
	}
	if lot != nil {
		item.LotID = &lot.ID
	}

	switch {
	case p.PlanLinkMode == entity.LinkByProcess:
		item.InheritPlanLink(p.PlanLineID, p.NoPlan, p.NoPlanJustification)
	case p.PlanLinkMode == entity.LinkByLot && lot != nil:
		item.InheritPlanLink(lot.PlanLineID, lot.NoPlan, lot.NoPlanJustification)
	case p.PlanLinkMode == entity.LinkByItem:
		if req.PlanLineID != nil && req.NoPlan {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "an item cannot be linked to a plan line and flagged no-plan at once")
		}
		if err := entity.CheckNoPlanJustification(req.NoPlan, req.NoPlanJustification); err != nil {
			return nil, err
		}
		item.InheritPlanLink(req.PlanLineID, req.NoPlan, req.NoPlanJustification)
	}
	item.Recalculate()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.itemRepo.WithTx(tx).Create(ctx, item); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		return s.consume(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}

	if err := s.refreshTotals(ctx, processID, item.LotID); err != nil {
		return nil, err
	}
	s.logItem(ctx, item, "create", "", item.Status, "item created", userID)
	return item, nil
}

// CreateBatch 批量创建，遇到错误停止并返回已创建的行项
func (s *ItemService) CreateBatch(ctx context.Context, processID, userID string, reqs []CreateItemRequest) ([]entity.LineItem, error) {
	created := make([]entity.LineItem, 0, len(reqs))
	for i := range reqs {
		item, err := s.Create(ctx, processID, userID, &reqs[i])
		if err != nil {
			return created, fmt.Errorf("item %d: %w", i+1, err)
		}
		created = append(created, *item)
	}
	return created, nil
}

// Update 更新有效行项的允许字段
func (s *ItemService) Update(ctx context.Context, id, userID string, req *UpdateItemRequest) (*entity.LineItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != entity.ItemStatusActive {
		return nil, apperr.Validation(apperr.CodeItemNotActive, "item %d is %s and cannot be edited", item.Number, item.Status)
	}
	if _, err := s.editableProcess(ctx, item.ProcessID); err != nil {
		return nil, err
	}

	if req.Description != nil {
		item.Description = strings.TrimSpace(*req.Description)
	}
	if req.CatalogCode != nil {
		item.CatalogCode = *req.CatalogCode
	}
	if req.ItemType != nil {
		item.ItemType = *req.ItemType
	}
	if req.Unit != nil {
		item.Unit = *req.Unit
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if req.UnitEstimated != nil {
		item.UnitEstimated = *req.UnitEstimated
	}
	if req.Participation != nil {
		item.Participation = *req.Participation
	}
	if req.Notes != nil {
		item.Notes = *req.Notes
	}
	if err := checkItemInput(item.Description, item.Unit, item.Quantity, item.UnitEstimated); err != nil {
		return nil, err
	}

	if err := s.itemRepo.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if err := s.refreshTotals(ctx, item.ProcessID, item.LotID); err != nil {
		return nil, err
	}
	s.logItem(ctx, item, "update", item.Status, item.Status, "item updated", userID)
	return item, nil
}

// Delete 删除行项，仅内部阶段；已登记的计划消耗不退回
func (s *ItemService) Delete(ctx context.Context, id, userID string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p, err := s.processRepo.Get(ctx, item.ProcessID)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if !phase.IsInternal(p.Phase) {
		return apperr.Validation(apperr.CodeProcessLocked, "items can only be deleted before publication, cancel it instead")
	}
	if err := s.itemRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.logItem(ctx, item, "delete", item.Status, "", "item deleted", userID)
	return s.refreshTotals(ctx, item.ProcessID, item.LotID)
}

// Cancel 取消行项
func (s *ItemService) Cancel(ctx context.Context, id, userID, reason string) (*entity.LineItem, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, id, userID, entity.ItemStatusActive, entity.ItemStatusCancelled, reason, nil)
}

// MarkNoBid 行项流标
func (s *ItemService) MarkNoBid(ctx context.Context, id, userID string) (*entity.LineItem, error) {
	return s.setStatus(ctx, id, userID, entity.ItemStatusActive, entity.ItemStatusNoBid, "no bids", nil)
}

// MarkFailed 行项失败
func (s *ItemService) MarkFailed(ctx context.Context, id, userID, reason string) (*entity.LineItem, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, id, userID, entity.ItemStatusActive, entity.ItemStatusFailed, reason, nil)
}

// Award 授予供应商
func (s *ItemService) Award(ctx context.Context, id, userID string, req *AwardItemRequest) (*entity.LineItem, error) {
	if strings.TrimSpace(req.SupplierName) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "supplier name is required")
	}
	if !req.UnitValue.IsPositive() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "awarded unit value must be positive")
	}
	return s.setStatus(ctx, id, userID, entity.ItemStatusActive, entity.ItemStatusAwarded, "awarded to "+req.SupplierName, func(item *entity.LineItem) {
		item.WinnerSupplierID = req.SupplierID
		item.WinnerSupplierName = req.SupplierName
		item.UnitAwarded = decimal.NewNullDecimal(req.UnitValue)
	})
}

// Ratify 批准已授予行项
func (s *ItemService) Ratify(ctx context.Context, id, userID string) (*entity.LineItem, error) {
	return s.setStatus(ctx, id, userID, entity.ItemStatusAwarded, entity.ItemStatusRatified, "ratified", nil)
}

// Summary 流程金额汇总与节约率
func (s *ItemService) Summary(ctx context.Context, processID string) (*ProcessSummary, error) {
	items, err := s.itemRepo.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return Summarize(items), nil
}

// Summarize 汇总行项金额
func Summarize(items []entity.LineItem) *ProcessSummary {
	sum := &ProcessSummary{
		ItemCount:       len(items),
		CountByStatus:   make(map[string]int),
		EstimatedTotal:  decimal.Zero,
		AwardedTotal:    decimal.Zero,
		AwardedEstimate: decimal.Zero,
		Savings:         decimal.Zero,
		SavingsPercent:  decimal.Zero,
	}
	for _, it := range items {
		sum.CountByStatus[it.Status]++
		if it.Status != entity.ItemStatusCancelled {
			sum.EstimatedTotal = sum.EstimatedTotal.Add(it.TotalEstimated)
		}
		if it.TotalAwarded.Valid {
			sum.AwardedTotal = sum.AwardedTotal.Add(it.TotalAwarded.Decimal)
			sum.AwardedEstimate = sum.AwardedEstimate.Add(it.TotalEstimated)
		}
	}
	sum.Savings = sum.AwardedEstimate.Sub(sum.AwardedTotal)
	if sum.AwardedEstimate.IsPositive() {
		sum.SavingsPercent = sum.Savings.Div(sum.AwardedEstimate).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return sum
}

// AttachToLot 把行项放入标段；BY_LOT方式下继承标段的计划关联
func (s *ItemService) AttachToLot(ctx context.Context, item *entity.LineItem, lot *entity.Lot, userID string) error {
	p, err := s.editableProcess(ctx, item.ProcessID)
	if err != nil {
		return err
	}
	if lot.ProcessID != item.ProcessID {
		return apperr.Validation(apperr.CodeInvalidInput, "lot %d belongs to another process", lot.Number)
	}

	previous := item.LotID
	item.LotID = &lot.ID
	relinked := false
	if p.PlanLinkMode == entity.LinkByLot {
		relinked = !samePlanLine(item.PlanLineID, lot.PlanLineID)
		item.InheritPlanLink(lot.PlanLineID, lot.NoPlan, lot.NoPlanJustification)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.itemRepo.WithTx(tx).Update(ctx, item); err != nil {
			return fmt.Errorf("attach item: %w", err)
		}
		if relinked {
			return s.consume(ctx, tx, item)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if previous != nil && *previous != lot.ID {
		if err := s.refreshLot(ctx, *previous); err != nil {
			return err
		}
	}
	if err := s.refreshLot(ctx, lot.ID); err != nil {
		return err
	}
	s.logItem(ctx, item, "attach_lot", item.Status, item.Status, fmt.Sprintf("moved to lot %d", lot.Number), userID)
	return nil
}

// DetachFromLot 移出标段，保留已有计划关联
func (s *ItemService) DetachFromLot(ctx context.Context, item *entity.LineItem, userID string) error {
	if _, err := s.editableProcess(ctx, item.ProcessID); err != nil {
		return err
	}
	if item.LotID == nil {
		return nil
	}
	lotID := *item.LotID
	if err := s.itemRepo.SetLot(ctx, item.ID, nil); err != nil {
		return fmt.Errorf("detach item: %w", err)
	}
	item.LotID = nil
	s.logItem(ctx, item, "detach_lot", item.Status, item.Status, "removed from lot", userID)
	return s.refreshLot(ctx, lotID)
}

func (s *ItemService) setStatus(ctx context.Context, id, userID, from, to, note string, apply func(*entity.LineItem)) (*entity.LineItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != from {
		return nil, apperr.Validation(apperr.CodeItemNotActive,
			"item %d is %s, expected %s", item.Number, item.Status, from)
	}
	p, err := s.processRepo.Get(ctx, item.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("find process: %w", err)
	}
	if phase.IsTerminal(p.Phase) {
		return nil, apperr.Validation(apperr.CodeProcessLocked, "process is in terminal phase %s", p.Phase)
	}

	item.Status = to
	if apply != nil {
		apply(item)
	}
	if err := s.itemRepo.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update item status: %w", err)
	}
	if err := s.refreshTotals(ctx, item.ProcessID, item.LotID); err != nil {
		return nil, err
	}
	s.logItem(ctx, item, "status", from, to, note, userID)
	return item, nil
}

func (s *ItemService) consume(ctx context.Context, tx *gorm.DB, item *entity.LineItem) error {
	if s.consumer == nil || item.PlanLineID == nil {
		return nil
	}
	return s.consumer.ConsumeForItem(ctx, tx, item)
}

func (s *ItemService) editableProcess(ctx context.Context, processID string) (*entity.Process, error) {
	p, err := s.processRepo.Get(ctx, processID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("process", processID)
		}
		return nil, fmt.Errorf("find process: %w", err)
	}
	if phase.IsEditLocked(p.Phase) {
		return nil, apperr.Validation(apperr.CodeProcessLocked, "items of a process in phase %s can no longer change", p.Phase)
	}
	return p, nil
}

func (s *ItemService) lotOfProcess(ctx context.Context, lotID, processID string) (*entity.Lot, error) {
	lot, err := s.lotRepo.FindByID(ctx, lotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lot", lotID)
		}
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if lot.ProcessID != processID {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "lot %d belongs to another process", lot.Number)
	}
	return lot, nil
}

// refreshTotals 重算标段与流程金额
func (s *ItemService) refreshTotals(ctx context.Context, processID string, lotID *string) error {
	if lotID != nil {
		if err := s.refreshLot(ctx, *lotID); err != nil {
			return err
		}
	}
	items, err := s.itemRepo.ListByProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	p := entity.Process{Items: items}
	p.RecalculateTotal()
	if err := s.processRepo.UpdateFields(ctx, processID, map[string]interface{}{"estimated_total": p.EstimatedTotal}); err != nil {
		return fmt.Errorf("update process total: %w", err)
	}
	return nil
}

func (s *ItemService) refreshLot(ctx context.Context, lotID string) error {
	lot, err := s.lotRepo.FindByID(ctx, lotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find lot: %w", err)
	}
	items, err := s.itemRepo.ListByLot(ctx, lotID)
	if err != nil {
		return fmt.Errorf("list lot items: %w", err)
	}
	lot.RecalculateTotals(items)
	if err := s.lotRepo.Update(ctx, lot); err != nil {
		return fmt.Errorf("update lot totals: %w", err)
	}
	return nil
}

func (s *ItemService) logItem(ctx context.Context, item *entity.LineItem, action, from, to, content, userID string) {
	code := fmt.Sprintf("%d", item.Number)
	if err := s.logRepo.LogActivity(ctx, "item", item.ID, code, action, from, to, content, userID, map[string]interface{}{
		"process_id": item.ProcessID,
	}); err != nil {
		s.logger.Warn("write activity log failed", zap.String("item_id", item.ID), zap.Error(err))
	}
}

func samePlanLine(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func checkItemInput(description, unit string, quantity, unitValue decimal.Decimal) error {
	if strings.TrimSpace(description) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "item description is required")
	}
	if strings.TrimSpace(unit) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "item unit is required")
	}
	if !quantity.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidInput, "item quantity must be positive")
	}
	if unitValue.IsNegative() {
		return apperr.Validation(apperr.CodeInvalidInput, "item unit value cannot be negative")
	}
	return nil
}
