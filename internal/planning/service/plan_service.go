package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/planning/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlanService 年度计划服务
type PlanService struct {
	planRepo   *repository.PlanRepository
	lineRepo   *repository.PlanLineRepository
	demandRepo *repository.DemandRepository
	db         *gorm.DB
	logger     *zap.Logger
	now        func() time.Time
}

// NewPlanService 创建年度计划服务
func NewPlanService(repos *repository.Repositories, db *gorm.DB) *PlanService {
	return &PlanService{
		planRepo:   repos.Plan,
		lineRepo:   repos.Line,
		demandRepo: repos.Demand,
		db:         db,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
}

// SetLogger 设置日志
func (s *PlanService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// CreatePlanRequest 创建计划请求
type CreatePlanRequest struct {
	OrgID       string `json:"org_id" binding:"required"`
	Year        int    `json:"year" binding:"required"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
}

// UpdatePlanRequest 更新计划请求
type UpdatePlanRequest struct {
	Description *string `json:"description"`
	Notes       *string `json:"notes"`
}

// PlanLineInput 计划行输入（新增、导入、汇总共用）
type PlanLineInput struct {
	Category       string          `json:"category"`
	Description    string          `json:"description"`
	Rationale      string          `json:"rationale"`
	CatalogCode    string          `json:"catalog_code"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitEstimated  decimal.Decimal `json:"unit_estimated"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	RequestingUnit string          `json:"requesting_unit"`
	DesiredDate    *time.Time      `json:"desired_date"`
	Priority       int             `json:"priority"`
	Renewable      bool            `json:"renewable"`
	Status         string          `json:"status"`
}

// UpdatePlanLineRequest 更新计划行请求
type UpdatePlanLineRequest struct {
	Category       *string          `json:"category"`
	Description    *string          `json:"description"`
	Rationale      *string          `json:"rationale"`
	CatalogCode    *string          `json:"catalog_code"`
	Unit           *string          `json:"unit"`
	Quantity       *decimal.Decimal `json:"quantity"`
	UnitEstimated  *decimal.Decimal `json:"unit_estimated"`
	EstimatedValue *decimal.Decimal `json:"estimated_value"`
	RequestingUnit *string          `json:"requesting_unit"`
	DesiredDate    *time.Time       `json:"desired_date"`
	Priority       *int             `json:"priority"`
	Renewable      *bool            `json:"renewable"`
	Status         *string          `json:"status"`
}

// 导入结果
const (
	OutcomeImported  = "imported"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// ImportOutcome 单行导入结果
type ImportOutcome struct {
	Row         int    `json:"row"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	LineID      string `json:"line_id,omitempty"`
}

// ImportReport 导入汇总
type ImportReport struct {
	Imported   int             `json:"imported"`
	Duplicates int             `json:"duplicates"`
	Errors     int             `json:"errors"`
	Lines      []ImportOutcome `json:"lines"`
}

// ConsolidationReport 需求汇总结果
type ConsolidationReport struct {
	Consolidated int      `json:"consolidated"`
	LinesCreated int      `json:"lines_created"`
	Skipped      []string `json:"skipped"`
}

// Bucket 统计桶
type Bucket struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

// PlanStatistics 计划统计
type PlanStatistics struct {
	ByCategory map[string]*Bucket `json:"by_category"`
	ByQuarter  map[int]*Bucket    `json:"by_quarter"`
	ByStatus   map[string]int     `json:"by_status"`
	ByPriority map[int]int        `json:"by_priority"`
	Estimated  decimal.Decimal    `json:"estimated"`
	Consumed   decimal.Decimal    `json:"consumed"`
	Exhausted  int                `json:"exhausted"`
}

// PlanListResult 计划列表结果
type PlanListResult struct {
	Items    []entity.AnnualPlan `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// List 计划列表
func (s *PlanService) List(ctx context.Context, page, pageSize int, filters map[string]string) (*PlanListResult, error) {
	items, total, err := s.planRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return &PlanListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get 计划详情
func (s *PlanService) Get(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	plan, err := s.planRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("plan", id)
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return plan, nil
}

// CreatePlan 创建计划，同一机构同一年只能有一份
func (s *PlanService) CreatePlan(ctx context.Context, userID string, req *CreatePlanRequest) (*entity.AnnualPlan, error) {
	if req.Year < 2000 || req.Year > 2100 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "invalid plan year %d", req.Year)
	}
	existing, err := s.planRepo.FindByOrgYear(ctx, req.OrgID, req.Year)
	if err != nil {
		return nil, fmt.Errorf("check plan: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict(apperr.CodePlanExists, "a plan for %d already exists", req.Year)
	}

	plan := &entity.AnnualPlan{
		ID:             uuid.New().String()[:32],
		OrgID:          req.OrgID,
		Year:           req.Year,
		Number:         fmt.Sprintf("PCA %d", req.Year),
		Description:    req.Description,
		Status:         entity.PlanStatusDraft,
		TotalEstimated: decimal.Zero,
		Notes:          req.Notes,
		CreatedBy:      userID,
	}
	if err := s.planRepo.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return plan, nil
}

// UpdatePlan 更新计划
func (s *PlanService) UpdatePlan(ctx context.Context, id string, req *UpdatePlanRequest) (*entity.AnnualPlan, error) {
	plan, err := s.mutablePlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Description != nil {
		plan.Description = *req.Description
	}
	if req.Notes != nil {
		plan.Notes = *req.Notes
	}
	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return plan, nil
}

// DeletePlan 删除计划
func (s *PlanService) DeletePlan(ctx context.Context, id string) error {
	plan, err := s.mutablePlan(ctx, id)
	if err != nil {
		return err
	}
	for _, l := range plan.Lines {
		if l.ConsumedValue.IsPositive() {
			return apperr.Validation(apperr.CodePlanImmutable, "plan line %d is already consumed by a process", l.Number)
		}
	}
	if err := s.planRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

// StartElaboration draft -> in_progress
func (s *PlanService) StartElaboration(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	return s.changeStatus(ctx, id, []string{entity.PlanStatusDraft}, entity.PlanStatusInProgress, nil)
}

// Approve 审批计划
func (s *PlanService) Approve(ctx context.Context, id, userID string) (*entity.AnnualPlan, error) {
	return s.changeStatus(ctx, id, []string{entity.PlanStatusDraft, entity.PlanStatusInProgress}, entity.PlanStatusApproved,
		func(p *entity.AnnualPlan, now time.Time) {
			p.ApprovedBy = userID
			p.ApprovedAt = &now
		})
}

// Publish 公布计划
func (s *PlanService) Publish(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	return s.changeStatus(ctx, id, []string{entity.PlanStatusApproved}, entity.PlanStatusPublished,
		func(p *entity.AnnualPlan, now time.Time) {
			p.PublishedAt = &now
		})
}

// MarkSent 记录已报送平台
func (s *PlanService) MarkSent(ctx context.Context, id, controlNumber string, sequence int) (*entity.AnnualPlan, error) {
	if controlNumber == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "registry control number is required")
	}
	return s.changeStatus(ctx, id, []string{entity.PlanStatusApproved, entity.PlanStatusPublished}, entity.PlanStatusSentToRegistry,
		func(p *entity.AnnualPlan, now time.Time) {
			p.RegistryControlNumber = controlNumber
			p.RegistrySequence = sequence
			p.SentAt = &now
		})
}

// WithdrawFromRegistry 平台删除计划后回到已审批，可修改后重新报送；已有行被流程关联时拒绝
func (s *PlanService) WithdrawFromRegistry(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	plan, err := s.getPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != entity.PlanStatusSentToRegistry {
		return nil, apperr.Validation(apperr.CodeNotSubmitted, "plan %s has not been sent to the registry", plan.Number)
	}
	for _, l := range plan.Lines {
		if l.ConsumedValue.IsPositive() {
			return nil, apperr.Validation(apperr.CodePlanImmutable, "plan line %d is already linked to procurements", l.Number)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan.Status = entity.PlanStatusApproved
		plan.RegistryControlNumber = ""
		plan.RegistrySequence = 0
		plan.SentAt = nil
		if err := s.planRepo.WithTx(tx).Update(ctx, plan); err != nil {
			return fmt.Errorf("update plan status: %w", err)
		}
		if err := s.lineRepo.WithTx(tx).ClearRegistrySequences(ctx, plan.ID); err != nil {
			return fmt.Errorf("clear line sequences: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("plan withdrawn from registry", zap.String("plan_id", plan.ID))
	return plan, nil
}

// Cancel 取消计划
func (s *PlanService) Cancel(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	return s.changeStatus(ctx, id, []string{entity.PlanStatusDraft, entity.PlanStatusInProgress, entity.PlanStatusApproved, entity.PlanStatusPublished},
		entity.PlanStatusCancelled, nil)
}

func (s *PlanService) changeStatus(ctx context.Context, id string, from []string, to string, apply func(*entity.AnnualPlan, time.Time)) (*entity.AnnualPlan, error) {
	plan, err := s.getPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if plan.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		if plan.Immutable() {
			return nil, apperr.Validation(apperr.CodePlanImmutable, "plan %s was already sent to the registry", plan.Number)
		}
		return nil, apperr.Validation(apperr.CodeInvalidTransition, "plan %s is %s, cannot become %s", plan.Number, plan.Status, to)
	}
	plan.Status = to
	if apply != nil {
		apply(plan, s.now())
	}
	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("update plan status: %w", err)
	}
	s.logger.Info("plan status changed", zap.String("plan_id", plan.ID), zap.String("status", to))
	return plan, nil
}

// ListLines 计划行
func (s *PlanService) ListLines(ctx context.Context, planID string, filters map[string]string) ([]entity.PlanLine, error) {
	return s.lineRepo.ListByPlan(ctx, planID, filters)
}

// AddLine 新增计划行
func (s *PlanService) AddLine(ctx context.Context, planID string, in *PlanLineInput) (*entity.PlanLine, error) {
	if _, err := s.mutablePlan(ctx, planID); err != nil {
		return nil, err
	}
	line, err := s.addLine(ctx, planID, in)
	if err != nil {
		return nil, err
	}
	if err := s.RecalculateTotals(ctx, planID); err != nil {
		return nil, err
	}
	return line, nil
}

// addLine 在行锁下取下一行号并写入
func (s *PlanService) addLine(ctx context.Context, planID string, in *PlanLineInput) (*entity.PlanLine, error) {
	line, err := buildLine(planID, in)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insertLineTx(ctx, tx, planID, line)
	})
	if err != nil {
		return nil, fmt.Errorf("add plan line: %w", err)
	}
	return line, nil
}

// insertLineTx 锁定计划后按顺序编号写入
func (s *PlanService) insertLineTx(ctx context.Context, tx *gorm.DB, planID string, line *entity.PlanLine) error {
	if _, err := s.planRepo.WithTx(tx).GetForUpdate(ctx, planID); err != nil {
		return err
	}
	max, err := s.lineRepo.WithTx(tx).MaxNumber(ctx, planID)
	if err != nil {
		return err
	}
	line.Number = max + 1
	return s.lineRepo.WithTx(tx).Create(ctx, line)
}

func buildLine(planID string, in *PlanLineInput) (*entity.PlanLine, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "description is required")
	}
	category := in.Category
	if category == "" {
		category = entity.CategoryMaterial
	}
	if !entity.ValidCategory(category) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown category %s", category)
	}
	status := in.Status
	if status == "" {
		status = entity.LineStatusPlanned
	}
	priority := in.Priority
	if priority <= 0 {
		priority = 3
	}

	line := &entity.PlanLine{
		ID:             uuid.New().String()[:32],
		PlanID:         planID,
		Category:       category,
		Description:    strings.TrimSpace(in.Description),
		Rationale:      in.Rationale,
		CatalogCode:    strings.TrimSpace(in.CatalogCode),
		Unit:           in.Unit,
		Quantity:       in.Quantity,
		UnitEstimated:  in.UnitEstimated,
		EstimatedValue: in.EstimatedValue,
		ConsumedValue:  decimal.Zero,
		RequestingUnit: in.RequestingUnit,
		DesiredDate:    in.DesiredDate,
		Priority:       priority,
		Renewable:      in.Renewable,
		Status:         status,
	}
	line.Normalize()
	if line.EstimatedValue.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "estimated value cannot be negative")
	}
	return line, nil
}

// UpdateLine 更新计划行
func (s *PlanService) UpdateLine(ctx context.Context, lineID string, req *UpdatePlanLineRequest) (*entity.PlanLine, error) {
	line, err := s.getLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutablePlan(ctx, line.PlanID); err != nil {
		return nil, err
	}

	if req.Category != nil {
		if !entity.ValidCategory(*req.Category) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown category %s", *req.Category)
		}
		line.Category = *req.Category
	}
	if req.Description != nil {
		if strings.TrimSpace(*req.Description) == "" {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "description cannot be empty")
		}
		line.Description = strings.TrimSpace(*req.Description)
	}
	if req.Rationale != nil {
		line.Rationale = *req.Rationale
	}
	if req.CatalogCode != nil {
		line.CatalogCode = strings.TrimSpace(*req.CatalogCode)
	}
	if req.Unit != nil {
		line.Unit = *req.Unit
	}
	if req.Quantity != nil {
		line.Quantity = *req.Quantity
	}
	if req.UnitEstimated != nil {
		line.UnitEstimated = *req.UnitEstimated
	}
	if req.EstimatedValue != nil {
		line.EstimatedValue = *req.EstimatedValue
	}
	if req.RequestingUnit != nil {
		line.RequestingUnit = *req.RequestingUnit
	}
	if req.DesiredDate != nil {
		line.DesiredDate = req.DesiredDate
	}
	if req.Priority != nil {
		line.Priority = *req.Priority
	}
	if req.Renewable != nil {
		line.Renewable = *req.Renewable
	}
	if req.Status != nil {
		line.Status = *req.Status
	}
	line.Normalize()
	if line.EstimatedValue.LessThan(line.ConsumedValue) {
		return nil, apperr.Validation(apperr.CodeInvalidInput,
			"estimated value %s is below the consumed value %s", line.EstimatedValue.StringFixed(2), line.ConsumedValue.StringFixed(2))
	}

	if err := s.lineRepo.Update(ctx, line); err != nil {
		return nil, fmt.Errorf("update plan line: %w", err)
	}
	if err := s.RecalculateTotals(ctx, line.PlanID); err != nil {
		return nil, err
	}
	return line, nil
}

// RemoveLine 删除计划行，已被消耗的行不可删除
func (s *PlanService) RemoveLine(ctx context.Context, lineID string) error {
	line, err := s.getLine(ctx, lineID)
	if err != nil {
		return err
	}
	if _, err := s.mutablePlan(ctx, line.PlanID); err != nil {
		return err
	}
	if line.ConsumedValue.IsPositive() {
		return apperr.Validation(apperr.CodePlanImmutable, "plan line %d is already consumed", line.Number)
	}
	if err := s.lineRepo.Delete(ctx, lineID); err != nil {
		return fmt.Errorf("delete plan line: %w", err)
	}
	return s.RecalculateTotals(ctx, line.PlanID)
}

// RecalculateTotals 计划合计只统计planned状态的行
func (s *PlanService) RecalculateTotals(ctx context.Context, planID string) error {
	lines, err := s.lineRepo.ListByPlan(ctx, planID, map[string]string{"status": entity.LineStatusPlanned})
	if err != nil {
		return fmt.Errorf("list plan lines: %w", err)
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.EstimatedValue)
	}
	return s.planRepo.UpdateFields(ctx, planID, map[string]interface{}{
		"total_estimated": total,
		"line_count":      len(lines),
	})
}

// Statistics 按类别、季度、状态、优先级统计
func (s *PlanService) Statistics(ctx context.Context, planID string) (*PlanStatistics, error) {
	if _, err := s.getPlan(ctx, planID); err != nil {
		return nil, err
	}
	lines, err := s.lineRepo.ListByPlan(ctx, planID, nil)
	if err != nil {
		return nil, fmt.Errorf("list plan lines: %w", err)
	}
	return ComputeStatistics(lines), nil
}

// ComputeStatistics 统计计划行
func ComputeStatistics(lines []entity.PlanLine) *PlanStatistics {
	st := &PlanStatistics{
		ByCategory: map[string]*Bucket{},
		ByQuarter:  map[int]*Bucket{},
		ByStatus:   map[string]int{},
		ByPriority: map[int]int{},
		Estimated:  decimal.Zero,
		Consumed:   decimal.Zero,
	}
	for _, l := range lines {
		b := st.ByCategory[l.Category]
		if b == nil {
			b = &Bucket{Value: decimal.Zero}
			st.ByCategory[l.Category] = b
		}
		b.Count++
		b.Value = b.Value.Add(l.EstimatedValue)

		if l.Quarter > 0 {
			q := st.ByQuarter[l.Quarter]
			if q == nil {
				q = &Bucket{Value: decimal.Zero}
				st.ByQuarter[l.Quarter] = q
			}
			q.Count++
			q.Value = q.Value.Add(l.EstimatedValue)
		}

		st.ByStatus[l.Status]++
		st.ByPriority[l.Priority]++
		st.Estimated = st.Estimated.Add(l.EstimatedValue)
		st.Consumed = st.Consumed.Add(l.ConsumedValue)
		if l.Exhausted {
			st.Exhausted++
		}
	}
	return st
}

// ImportLinesWithDuplicateDetection 逐行导入：目录编码或归一化描述重复的跳过，单行失败不影响整批
func (s *PlanService) ImportLinesWithDuplicateDetection(ctx context.Context, planID string, candidates []PlanLineInput) (*ImportReport, error) {
	plan, err := s.mutablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	idx := NewDuplicateIndex()
	for _, l := range plan.Lines {
		idx.Add(l.CatalogCode, l.Description)
	}

	report := &ImportReport{Lines: make([]ImportOutcome, 0, len(candidates))}
	for i := range candidates {
		c := &candidates[i]
		outcome := ImportOutcome{Row: i + 1, Description: truncateRunes(c.Description, detailDescriptionLength)}

		if dup, reason := idx.Check(c.CatalogCode, c.Description); dup {
			outcome.Status = OutcomeDuplicate
			outcome.Reason = reason
			report.Duplicates++
			report.Lines = append(report.Lines, outcome)
			continue
		}

		line, err := s.addLine(ctx, planID, c)
		if err != nil {
			outcome.Status = OutcomeError
			outcome.Reason = err.Error()
			report.Errors++
			report.Lines = append(report.Lines, outcome)
			continue
		}

		idx.Add(c.CatalogCode, c.Description)
		outcome.Status = OutcomeImported
		outcome.LineID = line.ID
		report.Imported++
		report.Lines = append(report.Lines, outcome)
	}

	if report.Imported > 0 {
		if err := s.RecalculateTotals(ctx, planID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("plan lines imported",
		zap.String("plan_id", planID),
		zap.Int("imported", report.Imported),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// 需求已被其他操作汇总
var errDemandTaken = errors.New("demand is no longer approved")

// ConsolidateApprovedDemands 把已审批需求的每一行复制为计划行，未审批的需求跳过
func (s *PlanService) ConsolidateApprovedDemands(ctx context.Context, planID string, demandIDs []string) (*ConsolidationReport, error) {
	if _, err := s.mutablePlan(ctx, planID); err != nil {
		return nil, err
	}

	report := &ConsolidationReport{Skipped: []string{}}
	for _, id := range demandIDs {
		d, err := s.demandRepo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				report.Skipped = append(report.Skipped, id)
				continue
			}
			return report, fmt.Errorf("find demand: %w", err)
		}
		if d.Status != entity.DemandStatusApproved {
			report.Skipped = append(report.Skipped, id)
			continue
		}

		// 每个需求一个事务：先抢占状态，再生成计划行，任何失败整体回滚
		created := 0
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			demands := s.demandRepo.WithTx(tx)
			n, err := demands.MarkConsolidated(ctx, d.ID, planID, s.now())
			if err != nil {
				return fmt.Errorf("mark demand consolidated: %w", err)
			}
			if n == 0 {
				return errDemandTaken
			}
			for _, dl := range d.Lines {
				line, err := buildLine(planID, &PlanLineInput{
					Category:       dl.Category,
					Description:    dl.Description,
					Rationale:      dl.Rationale,
					CatalogCode:    dl.CatalogCode,
					Unit:           dl.Unit,
					Quantity:       dl.Quantity,
					UnitEstimated:  dl.UnitEstimated,
					EstimatedValue: dl.EstimatedValue,
					RequestingUnit: d.RequestingUnit,
					DesiredDate:    dl.DesiredDate,
					Priority:       dl.Priority,
					Renewable:      dl.Renewable,
				})
				if err == nil {
					err = s.insertLineTx(ctx, tx, planID, line)
				}
				if err != nil {
					return fmt.Errorf("demand %s line %d: %w", d.Code, dl.Number, err)
				}
				if err := demands.LinkLine(ctx, dl.ID, line.ID); err != nil {
					return fmt.Errorf("link demand line: %w", err)
				}
				created++
			}
			return nil
		})
		if errors.Is(err, errDemandTaken) {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		if err != nil {
			if report.LinesCreated > 0 {
				if rerr := s.RecalculateTotals(ctx, planID); rerr != nil {
					s.logger.Error("recalculate plan totals", zap.String("plan_id", planID), zap.Error(rerr))
				}
			}
			return report, err
		}
		report.LinesCreated += created
		report.Consolidated++
	}

	if report.LinesCreated > 0 {
		if err := s.RecalculateTotals(ctx, planID); err != nil {
			return report, err
		}
	}
	return report, nil
}

// RolloverToNextYear 创建下一年计划，只复制续约或延期的行，期望日期顺延一年
func (s *PlanService) RolloverToNextYear(ctx context.Context, planID, userID string) (*entity.AnnualPlan, error) {
	plan, err := s.getPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	next, err := s.CreatePlan(ctx, userID, &CreatePlanRequest{
		OrgID:       plan.OrgID,
		Year:        plan.Year + 1,
		Description: plan.Description,
	})
	if err != nil {
		return nil, err
	}

	for _, l := range plan.Lines {
		if !l.Renewable && l.Status != entity.LineStatusDeferred {
			continue
		}
		var desired *time.Time
		if l.DesiredDate != nil {
			d := ShiftOneYear(*l.DesiredDate)
			desired = &d
		}
		if _, err := s.addLine(ctx, next.ID, &PlanLineInput{
			Category:       l.Category,
			Description:    l.Description,
			Rationale:      l.Rationale,
			CatalogCode:    l.CatalogCode,
			Unit:           l.Unit,
			Quantity:       l.Quantity,
			UnitEstimated:  l.UnitEstimated,
			EstimatedValue: l.EstimatedValue,
			RequestingUnit: l.RequestingUnit,
			DesiredDate:    desired,
			Priority:       l.Priority,
			Renewable:      l.Renewable,
		}); err != nil {
			return nil, fmt.Errorf("copy plan line %d: %w", l.Number, err)
		}
	}

	if err := s.RecalculateTotals(ctx, next.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, next.ID)
}

// ShiftOneYear 顺延一年，保留月、日；2月29日落到次年2月28日
func ShiftOneYear(t time.Time) time.Time {
	shifted := time.Date(t.Year()+1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if shifted.Month() != t.Month() {
		shifted = time.Date(t.Year()+1, t.Month()+1, 0, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	return shifted
}

func (s *PlanService) getPlan(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	return s.Get(ctx, id)
}

func (s *PlanService) mutablePlan(ctx context.Context, id string) (*entity.AnnualPlan, error) {
	plan, err := s.getPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Immutable() {
		return nil, apperr.Validation(apperr.CodePlanImmutable, "plan %s was already sent to the registry", plan.Number)
	}
	if plan.Status == entity.PlanStatusCancelled {
		return nil, apperr.Validation(apperr.CodePlanImmutable, "plan %s is cancelled", plan.Number)
	}
	return plan, nil
}

// GetLine 计划行详情
func (s *PlanService) GetLine(ctx context.Context, id string) (*entity.PlanLine, error) {
	return s.getLine(ctx, id)
}

// RecordLineRegistration 记录计划行在平台上的序号
func (s *PlanService) RecordLineRegistration(ctx context.Context, lineID string, sequence int) error {
	if sequence <= 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "registry sequence must be positive")
	}
	if err := s.lineRepo.SetRegistrySequence(ctx, lineID, sequence); err != nil {
		return fmt.Errorf("record plan line registration: %w", err)
	}
	return nil
}

func (s *PlanService) getLine(ctx context.Context, id string) (*entity.PlanLine, error) {
	line, err := s.lineRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("plan line", id)
		}
		return nil, fmt.Errorf("find plan line: %w", err)
	}
	return line, nil
}
