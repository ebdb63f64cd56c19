package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/planning/repository"
	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	procrepo "github.com/valleteclab/portaldcp/internal/procurement/repository"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var _ procservice.PlanConsumer = (*LedgerService)(nil)

// 消耗对象类型
const (
	TargetProcess = "process"
	TargetLot     = "lot"
	TargetItem    = "item"
)

// LedgerService 计划额度账本：校验、原子消耗、流程/标段/行项关联
type LedgerService struct {
	plans  *repository.Repositories
	proc   *procrepo.Repositories
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedgerService 创建账本服务
func NewLedgerService(plans *repository.Repositories, proc *procrepo.Repositories, db *gorm.DB) *LedgerService {
	return &LedgerService{
		plans:  plans,
		proc:   proc,
		db:     db,
		logger: zap.NewNop(),
	}
}

// SetLogger 设置日志
func (s *LedgerService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// ConsumeRequest 消耗请求，IdempotencyKey在同一计划行内唯一
type ConsumeRequest struct {
	PlanLineID     string
	Amount         decimal.Decimal
	IdempotencyKey string
	TargetType     string
	TargetID       string
	ProcessID      *string
	OperatorID     string
}

// ConsumeResult 消耗结果
type ConsumeResult struct {
	Applied bool             `json:"applied"` // false表示幂等键已登记过，本次未重复扣减
	Line    *entity.PlanLine `json:"line"`
}

// UnlinkRequest 解除计划关联
type UnlinkRequest struct {
	TargetType    string `json:"target_type" binding:"required"` // process/lot/item
	TargetID      string `json:"target_id" binding:"required"`
	Justification string `json:"justification" binding:"required"`
}

// IdempotencyKey 消耗对象的幂等键
func IdempotencyKey(targetType, targetID string) string {
	return targetType + ":" + targetID
}

// CheckLinkable 校验计划行可被消耗amount：计划已报送、未耗尽、余额足够
func CheckLinkable(plan *entity.AnnualPlan, line *entity.PlanLine, amount decimal.Decimal) error {
	if !plan.Consumable() {
		return apperr.Validation(apperr.CodePlanNotPublished,
			"plan %s is %s, only plans sent to the registry can be consumed", plan.Number, plan.Status)
	}
	return balanceError(line, amount)
}

func balanceError(line *entity.PlanLine, amount decimal.Decimal) error {
	balance := line.Balance()
	if !balance.IsPositive() {
		return apperr.Validation(apperr.CodePlanExhausted, "plan line %d is exhausted", line.Number)
	}
	if amount.GreaterThan(balance) {
		return apperr.Validation(apperr.CodeInsufficientBalance,
			"plan line %d has %s left, %s requested", line.Number, balance.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

// ValidateLinkable 只读校验
func (s *LedgerService) ValidateLinkable(ctx context.Context, planLineID string, amount decimal.Decimal) error {
	plan, line, err := s.loadLine(ctx, s.plans, planLineID)
	if err != nil {
		return err
	}
	return CheckLinkable(plan, line, amount)
}

// ConsumeBalance 原子扣减额度；同一幂等键重复调用不重复扣减
func (s *LedgerService) ConsumeBalance(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	var result *ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.consumeTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) consumeTx(ctx context.Context, tx *gorm.DB, req ConsumeRequest) (*ConsumeResult, error) {
	if req.Amount.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "consumption amount cannot be negative")
	}
	if req.IdempotencyKey == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "idempotency key is required")
	}

	repos := &repository.Repositories{
		Plan:        s.plans.Plan.WithTx(tx),
		Line:        s.plans.Line.WithTx(tx),
		Consumption: s.plans.Consumption.WithTx(tx),
	}
	plan, line, err := s.loadLine(ctx, repos, req.PlanLineID)
	if err != nil {
		return nil, err
	}
	if !plan.Consumable() {
		return nil, CheckLinkable(plan, line, req.Amount)
	}

	created, err := repos.Consumption.Insert(ctx, &entity.PlanConsumption{
		ID:             uuid.New().String()[:32],
		PlanLineID:     line.ID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		CreatedBy:      req.OperatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("record consumption: %w", err)
	}
	if !created {
		return &ConsumeResult{Applied: false, Line: line}, nil
	}

	n, err := repos.Line.Consume(ctx, line.ID, req.Amount, req.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("consume plan line: %w", err)
	}
	if n == 0 {
		fresh, err := repos.Line.FindByID(ctx, line.ID)
		if err != nil {
			return nil, fmt.Errorf("reload plan line: %w", err)
		}
		if berr := balanceError(fresh, req.Amount); berr != nil {
			return nil, berr
		}
		return nil, apperr.Validation(apperr.CodeInsufficientBalance, "plan line %d balance changed concurrently", line.Number)
	}

	updated, err := repos.Line.FindByID(ctx, line.ID)
	if err != nil {
		return nil, fmt.Errorf("reload plan line: %w", err)
	}
	s.logger.Info("plan line consumed",
		zap.String("plan_line_id", line.ID),
		zap.String("key", req.IdempotencyKey),
		zap.String("amount", req.Amount.String()),
		zap.Bool("exhausted", updated.Exhausted),
	)
	return &ConsumeResult{Applied: true, Line: updated}, nil
}

// LinkPlanToProcess BY_PROCESS方式：整个流程关联一条计划行，并同步到全部行项
func (s *LedgerService) LinkPlanToProcess(ctx context.Context, processID, planLineID, userID string) (*procentity.Process, error) {
	p, err := s.linkableProcess(ctx, processID, procentity.LinkByProcess)
	if err != nil {
		return nil, err
	}
	items, err := s.proc.Item.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	p.Items = items
	p.RecalculateTotal()

	lineID := planLineID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.consumeTx(ctx, tx, ConsumeRequest{
			PlanLineID:     planLineID,
			Amount:         p.EstimatedTotal,
			IdempotencyKey: IdempotencyKey(TargetProcess, p.ID),
			TargetType:     TargetProcess,
			TargetID:       p.ID,
			ProcessID:      &p.ID,
			OperatorID:     userID,
		}); err != nil {
			return err
		}
		if err := s.proc.Process.WithTx(tx).UpdateFields(ctx, p.ID, map[string]interface{}{
			"plan_line_id":          &lineID,
			"no_plan":               false,
			"no_plan_justification": "",
		}); err != nil {
			return err
		}
		_, err := s.proc.Item.WithTx(tx).PropagatePlanLinkToProcess(ctx, p.ID, &lineID, false, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logLink(ctx, TargetProcess, p.ID, p.ProcessNumber, "plan_link", "linked to plan line", userID, planLineID, p.EstimatedTotal)
	return s.proc.Process.FindByID(ctx, p.ID)
}

// LinkPlanToLot BY_LOT方式：标段关联计划行，并同步到标段内全部行项
func (s *LedgerService) LinkPlanToLot(ctx context.Context, lotID, planLineID, userID string) (*procentity.Lot, error) {
	lot, err := s.proc.Lot.FindByID(ctx, lotID)
	if err != nil {
		if errors.Is(err, procrepo.ErrNotFound) {
			return nil, apperr.NotFound("lot", lotID)
		}
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if _, err := s.linkableProcess(ctx, lot.ProcessID, procentity.LinkByLot); err != nil {
		return nil, err
	}
	items, err := s.proc.Item.ListByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("list lot items: %w", err)
	}
	lot.RecalculateTotals(items)

	lineID := planLineID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 按行项登记消耗：行项在标段间移动后再回到本计划行时不会重复扣减
		charged := 0
		for i := range items {
			it := &items[i]
			if it.Status == procentity.ItemStatusCancelled {
				continue
			}
			charged++
			if _, err := s.consumeTx(ctx, tx, ConsumeRequest{
				PlanLineID:     planLineID,
				Amount:         it.TotalEstimated,
				IdempotencyKey: IdempotencyKey(TargetItem, it.ID),
				TargetType:     TargetItem,
				TargetID:       it.ID,
				ProcessID:      &lot.ProcessID,
				OperatorID:     userID,
			}); err != nil {
				return err
			}
		}
		if charged == 0 {
			if err := s.checkLinkableTx(ctx, tx, planLineID, decimal.Zero); err != nil {
				return err
			}
		}
		if err := s.proc.Lot.WithTx(tx).SetPlanLink(ctx, lot.ID, &lineID, false, ""); err != nil {
			return err
		}
		_, err := s.proc.Item.WithTx(tx).PropagatePlanLinkToLot(ctx, lot.ID, &lineID, false, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	lot.PlanLineID = &lineID
	lot.NoPlan = false
	lot.NoPlanJustification = ""
	s.logLink(ctx, TargetLot, lot.ID, fmt.Sprintf("%d", lot.Number), "plan_link", "lot linked to plan line", userID, planLineID, lot.EstimatedTotal)
	return lot, nil
}

func (s *LedgerService) checkLinkableTx(ctx context.Context, tx *gorm.DB, planLineID string, amount decimal.Decimal) error {
	repos := &repository.Repositories{
		Plan: s.plans.Plan.WithTx(tx),
		Line: s.plans.Line.WithTx(tx),
	}
	plan, line, err := s.loadLine(ctx, repos, planLineID)
	if err != nil {
		return err
	}
	return CheckLinkable(plan, line, amount)
}

// LinkPlanToItem BY_ITEM方式：单个行项关联计划行
func (s *LedgerService) LinkPlanToItem(ctx context.Context, itemID, planLineID, userID string) (*procentity.LineItem, error) {
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != procentity.ItemStatusActive {
		return nil, apperr.Validation(apperr.CodeItemNotActive, "item %d is %s", item.Number, item.Status)
	}
	if _, err := s.linkableProcess(ctx, item.ProcessID, procentity.LinkByItem); err != nil {
		return nil, err
	}

	lineID := planLineID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.consumeTx(ctx, tx, ConsumeRequest{
			PlanLineID:     planLineID,
			Amount:         item.TotalEstimated,
			IdempotencyKey: IdempotencyKey(TargetItem, item.ID),
			TargetType:     TargetItem,
			TargetID:       item.ID,
			ProcessID:      &item.ProcessID,
			OperatorID:     userID,
		}); err != nil {
			return err
		}
		return s.proc.Item.WithTx(tx).SetPlanLink(ctx, item.ID, &lineID, false, "")
	})
	if err != nil {
		return nil, err
	}

	item.InheritPlanLink(&lineID, false, "")
	s.logLink(ctx, TargetItem, item.ID, fmt.Sprintf("%d", item.Number), "plan_link", "item linked to plan line", userID, planLineID, item.TotalEstimated)
	return item, nil
}

// UnlinkWithJustification 声明无计划关联；说明不少于50字，已登记的消耗不退回
func (s *LedgerService) UnlinkWithJustification(ctx context.Context, req UnlinkRequest, userID string) error {
	if err := procentity.CheckNoPlanJustification(true, req.Justification); err != nil {
		return err
	}

	switch req.TargetType {
	case TargetProcess:
		p, err := s.editableProcess(ctx, req.TargetID)
		if err != nil {
			return err
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.proc.Process.WithTx(tx).UpdateFields(ctx, p.ID, map[string]interface{}{
				"plan_line_id":          nil,
				"no_plan":               true,
				"no_plan_justification": req.Justification,
			}); err != nil {
				return err
			}
			if p.PlanLinkMode != procentity.LinkByProcess {
				return nil
			}
			_, err := s.proc.Item.WithTx(tx).PropagatePlanLinkToProcess(ctx, p.ID, nil, true, req.Justification)
			return err
		})
		if err != nil {
			return fmt.Errorf("unlink process: %w", err)
		}
		s.logLink(ctx, TargetProcess, p.ID, p.ProcessNumber, "plan_unlink", req.Justification, userID, "", decimal.Zero)

	case TargetLot:
		lot, err := s.proc.Lot.FindByID(ctx, req.TargetID)
		if err != nil {
			if errors.Is(err, procrepo.ErrNotFound) {
				return apperr.NotFound("lot", req.TargetID)
			}
			return fmt.Errorf("find lot: %w", err)
		}
		p, err := s.editableProcess(ctx, lot.ProcessID)
		if err != nil {
			return err
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.proc.Lot.WithTx(tx).SetPlanLink(ctx, lot.ID, nil, true, req.Justification); err != nil {
				return err
			}
			if p.PlanLinkMode != procentity.LinkByLot {
				return nil
			}
			_, err := s.proc.Item.WithTx(tx).PropagatePlanLinkToLot(ctx, lot.ID, nil, true, req.Justification)
			return err
		})
		if err != nil {
			return fmt.Errorf("unlink lot: %w", err)
		}
		s.logLink(ctx, TargetLot, lot.ID, fmt.Sprintf("%d", lot.Number), "plan_unlink", req.Justification, userID, "", decimal.Zero)

	case TargetItem:
		item, err := s.findItem(ctx, req.TargetID)
		if err != nil {
			return err
		}
		if _, err := s.editableProcess(ctx, item.ProcessID); err != nil {
			return err
		}
		if err := s.proc.Item.SetPlanLink(ctx, item.ID, nil, true, req.Justification); err != nil {
			return fmt.Errorf("unlink item: %w", err)
		}
		s.logLink(ctx, TargetItem, item.ID, fmt.Sprintf("%d", item.Number), "plan_unlink", req.Justification, userID, "", decimal.Zero)

	default:
		return apperr.Validation(apperr.CodeInvalidInput, "unknown target type %s", req.TargetType)
	}
	return nil
}

// ConsumeForItem 行项继承计划关联后登记自身金额，幂等键为行项ID
func (s *LedgerService) ConsumeForItem(ctx context.Context, tx *gorm.DB, item *procentity.LineItem) error {
	if item.PlanLineID == nil {
		return nil
	}
	req := ConsumeRequest{
		PlanLineID:     *item.PlanLineID,
		Amount:         item.TotalEstimated,
		IdempotencyKey: IdempotencyKey(TargetItem, item.ID),
		TargetType:     TargetItem,
		TargetID:       item.ID,
		ProcessID:      &item.ProcessID,
	}
	var err error
	if tx == nil {
		_, err = s.ConsumeBalance(ctx, req)
	} else {
		_, err = s.consumeTx(ctx, tx, req)
	}
	return err
}

// Consumptions 计划行消耗明细
func (s *LedgerService) Consumptions(ctx context.Context, planLineID string) ([]entity.PlanConsumption, error) {
	return s.plans.Consumption.ListByLine(ctx, planLineID)
}

func (s *LedgerService) loadLine(ctx context.Context, repos *repository.Repositories, planLineID string) (*entity.AnnualPlan, *entity.PlanLine, error) {
	line, err := repos.Line.FindByID(ctx, planLineID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.NotFound("plan line", planLineID)
		}
		return nil, nil, fmt.Errorf("find plan line: %w", err)
	}
	plan, err := repos.Plan.Get(ctx, line.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("find plan: %w", err)
	}
	return plan, line, nil
}

func (s *LedgerService) editableProcess(ctx context.Context, processID string) (*procentity.Process, error) {
	p, err := s.proc.Process.Get(ctx, processID)
	if err != nil {
		if errors.Is(err, procrepo.ErrNotFound) {
			return nil, apperr.NotFound("process", processID)
		}
		return nil, fmt.Errorf("find process: %w", err)
	}
	if !phase.IsInternal(p.Phase) {
		return nil, apperr.Validation(apperr.CodeProcessLocked,
			"plan links can only change before publication, current phase %s", p.Phase)
	}
	return p, nil
}

func (s *LedgerService) linkableProcess(ctx context.Context, processID string, mode procentity.PlanLinkMode) (*procentity.Process, error) {
	p, err := s.editableProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if p.PlanLinkMode != mode {
		return nil, apperr.Validation(apperr.CodeLinkModeMismatch,
			"process %s links plans %s, not %s", p.ProcessNumber, p.PlanLinkMode, mode)
	}
	return p, nil
}

func (s *LedgerService) findItem(ctx context.Context, itemID string) (*procentity.LineItem, error) {
	item, err := s.proc.Item.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, procrepo.ErrNotFound) {
			return nil, apperr.NotFound("item", itemID)
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return item, nil
}

func (s *LedgerService) logLink(ctx context.Context, targetType, id, code, action, content, userID, planLineID string, amount decimal.Decimal) {
	meta := map[string]interface{}{"amount": amount.String()}
	if planLineID != "" {
		meta["plan_line_id"] = planLineID
	}
	if err := s.proc.ActivityLog.LogActivity(ctx, targetType, id, code, action, "", "", content, userID, meta); err != nil {
		s.logger.Warn("write activity log failed", zap.String("target_id", id), zap.Error(err))
	}
}
