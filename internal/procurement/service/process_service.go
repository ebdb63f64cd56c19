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
	"gorm.io/gorm/clause"
)

// ProcessService 采购流程服务：阶段推进、日程、平台标识回写
type ProcessService struct {
	processRepo *repository.ProcessRepository
	itemRepo    *repository.ItemRepository
	logRepo     *repository.ActivityLogRepository
	db          *gorm.DB
	clock       Clock
	logger      *zap.Logger
}

// NewProcessService 创建采购流程服务
func NewProcessService(repos *repository.Repositories, db *gorm.DB) *ProcessService {
	return &ProcessService{
		processRepo: repos.Process,
		itemRepo:    repos.Item,
		logRepo:     repos.ActivityLog,
		db:          db,
		clock:       SystemClock{},
		logger:      zap.NewNop(),
	}
}

// SetClock 替换时间来源
func (s *ProcessService) SetClock(c Clock) {
	s.clock = c
}

// SetLogger 设置日志
func (s *ProcessService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

var supportedModalities = map[string]bool{
	entity.ModalityPregaoEletronico:   true,
	entity.ModalityPregaoPresencial:   true,
	entity.ModalityConcorrencia:       true,
	entity.ModalityConcurso:           true,
	entity.ModalityLeilao:             true,
	entity.ModalityDialogoCompetitivo: true,
	entity.ModalityDispensaEletronica: true,
	entity.ModalityInexigibilidade:    true,
	entity.ModalityCredenciamento:     true,
}

// SupportedModality 是否为支持的采购方式
func SupportedModality(m string) bool {
	return supportedModalities[m]
}

// CreateProcessRequest 创建流程请求
type CreateProcessRequest struct {
	ProcessNumber        string              `json:"process_number"`
	NoticeNumber         string              `json:"notice_number"`
	OrgID                string              `json:"org_id"`
	Object               string              `json:"object" binding:"required"`
	DetailedObject       string              `json:"detailed_object"`
	Justification        string              `json:"justification"`
	Modality             string              `json:"modality"`
	Criterion            string              `json:"criterion"`
	DisputeMode          string              `json:"dispute_mode"`
	BudgetSecrecy        string              `json:"budget_secrecy"`
	SecrecyJustification string              `json:"secrecy_justification"`
	SRP                  bool                `json:"srp"`
	SmallBusinessFavored bool                `json:"small_business_favored"`
	PlanLinkMode         entity.PlanLinkMode `json:"plan_link_mode"`
	NoPlan               bool                `json:"no_plan"`
	NoPlanJustification  string              `json:"no_plan_justification"`
	Notes                string              `json:"notes"`
}

// UpdateProcessRequest 更新流程请求，只允许修改列出的字段
type UpdateProcessRequest struct {
	NoticeNumber         *string              `json:"notice_number"`
	Object               *string              `json:"object"`
	DetailedObject       *string              `json:"detailed_object"`
	Justification        *string              `json:"justification"`
	Modality             *string              `json:"modality"`
	Criterion            *string              `json:"criterion"`
	DisputeMode          *string              `json:"dispute_mode"`
	BudgetSecrecy        *string              `json:"budget_secrecy"`
	SecrecyJustification *string              `json:"secrecy_justification"`
	SRP                  *bool                `json:"srp"`
	SmallBusinessFavored *bool                `json:"small_business_favored"`
	PlanLinkMode         *entity.PlanLinkMode `json:"plan_link_mode"`
	EdictDocumentKey     *string              `json:"edict_document_key"`
	Notes                *string              `json:"notes"`
}

// RegistryIdentifiers 平台返回的公示标识
type RegistryIdentifiers struct {
	ControlNumber string `json:"control_number"`
	Year          int    `json:"year"`
	Sequence      int    `json:"sequence"`
	Link          string `json:"link"`
}

// ProcessListResult 流程列表结果
type ProcessListResult struct {
	Items      []entity.Process `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// List 流程列表
func (s *ProcessService) List(ctx context.Context, page, pageSize int, filters map[string]string) (*ProcessListResult, error) {
	items, total, err := s.processRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &ProcessListResult{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Get 流程详情（含标段、行项）
func (s *ProcessService) Get(ctx context.Context, id string) (*entity.Process, error) {
	p, err := s.processRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("process", id)
		}
		return nil, fmt.Errorf("find process: %w", err)
	}
	return p, nil
}

// CreateProcess 创建流程，初始阶段为planning
func (s *ProcessService) CreateProcess(ctx context.Context, userID string, req *CreateProcessRequest) (*entity.Process, error) {
	if strings.TrimSpace(req.Object) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "object is required")
	}

	modality := req.Modality
	if modality == "" {
		modality = entity.ModalityPregaoEletronico
	}
	if !SupportedModality(modality) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unsupported modality %s", modality)
	}

	secrecy, err := checkSecrecy(req.BudgetSecrecy, req.SecrecyJustification)
	if err != nil {
		return nil, err
	}

	mode := req.PlanLinkMode
	if mode == "" {
		mode = entity.LinkByItem
	}
	if !validLinkMode(mode) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown plan link mode %s", mode)
	}

	if err := entity.CheckNoPlanJustification(req.NoPlan, req.NoPlanJustification); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	year := now.Year()

	count, err := s.processRepo.CountByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("count processes: %w", err)
	}
	seq := int(count) + 1

	number := strings.TrimSpace(req.ProcessNumber)
	if number == "" {
		number = fmt.Sprintf("%03d/%d", seq, year)
	}

	existing, err := s.processRepo.FindByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("check process number: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict(apperr.CodeDuplicateNumber, "process number %s already exists", number)
	}

	p := &entity.Process{
		ID:                   uuid.New().String()[:32],
		ProcessNumber:        number,
		NoticeNumber:         req.NoticeNumber,
		Year:                 year,
		Sequence:             seq,
		OrgID:                req.OrgID,
		Object:               strings.TrimSpace(req.Object),
		DetailedObject:       req.DetailedObject,
		Justification:        req.Justification,
		Modality:             modality,
		Criterion:            defaultString(req.Criterion, entity.CriterionLowestPrice),
		DisputeMode:          defaultString(req.DisputeMode, entity.DisputeModeOpen),
		Phase:                phase.Planning,
		BudgetSecrecy:        secrecy,
		SecrecyJustification: req.SecrecyJustification,
		SRP:                  req.SRP,
		SmallBusinessFavored: req.SmallBusinessFavored,
		PlanLinkMode:         mode,
		NoPlan:               req.NoPlan,
		NoPlanJustification:  req.NoPlanJustification,
		EstimatedTotal:       decimal.Zero,
		RatifiedValue:        decimal.Zero,
		OpenedAt:             &now,
		Notes:                req.Notes,
		CreatedBy:            userID,
	}

	if err := s.processRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}

	s.logActivity(ctx, p, "create", "", p.Phase, "process created", userID, nil)
	return p, nil
}

// UpdateProcess 更新流程主数据，竞价开始后不可修改
func (s *ProcessService) UpdateProcess(ctx context.Context, id, userID string, req *UpdateProcessRequest) (*entity.Process, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if phase.IsEditLocked(p.Phase) {
		return nil, apperr.Validation(apperr.CodeProcessLocked, "process in phase %s can no longer be edited", p.Phase)
	}

	if req.NoticeNumber != nil {
		p.NoticeNumber = *req.NoticeNumber
	}
	if req.Object != nil {
		if strings.TrimSpace(*req.Object) == "" {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "object cannot be empty")
		}
		p.Object = strings.TrimSpace(*req.Object)
	}
	if req.DetailedObject != nil {
		p.DetailedObject = *req.DetailedObject
	}
	if req.Justification != nil {
		p.Justification = *req.Justification
	}
	if req.Modality != nil {
		if !SupportedModality(*req.Modality) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "unsupported modality %s", *req.Modality)
		}
		p.Modality = *req.Modality
	}
	if req.Criterion != nil {
		p.Criterion = *req.Criterion
	}
	if req.DisputeMode != nil {
		p.DisputeMode = *req.DisputeMode
	}
	if req.SecrecyJustification != nil {
		p.SecrecyJustification = *req.SecrecyJustification
	}
	if req.BudgetSecrecy != nil {
		p.BudgetSecrecy = *req.BudgetSecrecy
	}
	if req.BudgetSecrecy != nil || req.SecrecyJustification != nil {
		secrecy, err := checkSecrecy(p.BudgetSecrecy, p.SecrecyJustification)
		if err != nil {
			return nil, err
		}
		p.BudgetSecrecy = secrecy
	}
	if req.SRP != nil {
		p.SRP = *req.SRP
	}
	if req.SmallBusinessFavored != nil {
		p.SmallBusinessFavored = *req.SmallBusinessFavored
	}
	if req.PlanLinkMode != nil {
		if !phase.IsInternal(p.Phase) {
			return nil, apperr.Validation(apperr.CodeProcessLocked, "plan link mode can only change before publication")
		}
		if !validLinkMode(*req.PlanLinkMode) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown plan link mode %s", *req.PlanLinkMode)
		}
		p.PlanLinkMode = *req.PlanLinkMode
	}
	if req.EdictDocumentKey != nil {
		p.EdictDocumentKey = *req.EdictDocumentKey
	}
	if req.Notes != nil {
		p.Notes = *req.Notes
	}

	if err := s.processRepo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update process: %w", err)
	}
	s.logActivity(ctx, p, "update", p.Phase, p.Phase, "process updated", userID, nil)
	return p, nil
}

// Delete 删除流程，仅内部阶段允许
func (s *ProcessService) Delete(ctx context.Context, id, userID string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !phase.IsInternal(p.Phase) {
		return apperr.Validation(apperr.CodeInvalidTransition,
			"process in phase %s cannot be deleted, use revoke or annul", p.Phase)
	}
	if err := s.processRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete process: %w", err)
	}
	s.logActivity(ctx, p, "delete", p.Phase, "", "process deleted", userID, nil)
	return nil
}

// Advance 推进到下一阶段
func (s *ProcessService) Advance(ctx context.Context, id, userID, note string) (*entity.Process, error) {
	return s.transition(ctx, id, userID, phase.ActionAdvance, note, nil)
}

// Retreat 内部阶段回退一步
func (s *ProcessService) Retreat(ctx context.Context, id, userID, reason string) (*entity.Process, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionRetreat, reason, nil)
}

// Publish 记录公告日程并发布
func (s *ProcessService) Publish(ctx context.Context, id, userID string, schedule entity.Schedule) (*entity.Process, error) {
	if err := checkScheduleOrder(schedule); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionPublish, "published", func(p *entity.Process, g *phase.Guard) error {
		p.ApplySchedule(schedule)
		g.HasSchedule = schedule.Complete()
		return nil
	})
}

// Suspend 暂停
func (s *ProcessService) Suspend(ctx context.Context, id, userID, reason string) (*entity.Process, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionSuspend, reason, nil)
}

// Resume 恢复到公开阶段，to为空时恢复到收标
func (s *ProcessService) Resume(ctx context.Context, id, userID string, to phase.Phase, note string) (*entity.Process, error) {
	return s.transition(ctx, id, userID, phase.ActionResume, note, func(p *entity.Process, g *phase.Guard) error {
		g.ResumeTo = to
		return nil
	})
}

// Revoke 撤销
func (s *ProcessService) Revoke(ctx context.Context, id, userID, reason string) (*entity.Process, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionRevoke, reason, nil)
}

// Annul 废止
func (s *ProcessService) Annul(ctx context.Context, id, userID, reason string) (*entity.Process, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionAnnul, reason, nil)
}

// MarkNoBid 流标（无人投标）
func (s *ProcessService) MarkNoBid(ctx context.Context, id, userID, note string) (*entity.Process, error) {
	return s.transition(ctx, id, userID, phase.ActionMarkNoBid, note, nil)
}

// MarkFailed 失败（全部投标被否决）
func (s *ProcessService) MarkFailed(ctx context.Context, id, userID, reason string) (*entity.Process, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, userID, phase.ActionMarkFailed, reason, nil)
}

// StartDispute 开始竞价（proposal_analysis -> dispute）
func (s *ProcessService) StartDispute(ctx context.Context, id, userID string) (*entity.Process, error) {
	return s.transition(ctx, id, userID, phase.ActionAdvance, "dispute started", requirePhase(phase.ProposalAnalysis))
}

// CloseDispute 结束竞价（dispute -> judgment）
func (s *ProcessService) CloseDispute(ctx context.Context, id, userID string) (*entity.Process, error) {
	return s.transition(ctx, id, userID, phase.ActionAdvance, "dispute closed", requirePhase(phase.Dispute))
}

// Ratify 批准（award -> homologation），记录批准金额
func (s *ProcessService) Ratify(ctx context.Context, id, userID string, value decimal.Decimal) (*entity.Process, error) {
	if value.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "ratified value cannot be negative")
	}
	check := requirePhase(phase.Award)
	return s.transition(ctx, id, userID, phase.ActionAdvance, "ratified", func(p *entity.Process, g *phase.Guard) error {
		if err := check(p, g); err != nil {
			return err
		}
		p.RatifiedValue = value
		return nil
	})
}

// ConfirmRegistryPublication 平台接收成功后回写标识；内部审批阶段随之进入已发布
func (s *ProcessService) ConfirmRegistryPublication(ctx context.Context, id, userID string, ids RegistryIdentifiers) (*entity.Process, error) {
	if ids.ControlNumber == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "registry control number is required")
	}
	return s.transition(ctx, id, userID, phase.ActionRegistryConfirm, "registry "+ids.ControlNumber, func(p *entity.Process, g *phase.Guard) error {
		p.RegistryControlNumber = ids.ControlNumber
		p.RegistryYear = ids.Year
		p.RegistrySequence = ids.Sequence
		if ids.Link != "" {
			p.RegistryLink = ids.Link
		}
		p.PublishedToRegistry = true
		return nil
	})
}

// UpdateSchedule 修改公告日程（竞价开始前）
func (s *ProcessService) UpdateSchedule(ctx context.Context, id, userID string, schedule entity.Schedule) (*entity.Process, error) {
	if err := checkScheduleOrder(schedule); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if phase.IsEditLocked(p.Phase) {
		return nil, apperr.Validation(apperr.CodeProcessLocked, "schedule of a process in phase %s can no longer change", p.Phase)
	}

	p.ApplySchedule(schedule)
	err = s.processRepo.UpdateFields(ctx, id, map[string]interface{}{
		"publication_date":   schedule.PublicationDate,
		"challenge_deadline": schedule.ChallengeDeadline,
		"intake_start":       schedule.IntakeStart,
		"intake_end":         schedule.IntakeEnd,
		"session_opening":    schedule.SessionOpening,
	})
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	s.logActivity(ctx, p, "schedule", p.Phase, p.Phase, "schedule updated", userID, nil)
	return p, nil
}

// RecalculateTotal 按行项重算流程预估金额
func (s *ProcessService) RecalculateTotal(ctx context.Context, id string) (*entity.Process, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.RecalculateTotal()
	if err := s.processRepo.UpdateFields(ctx, id, map[string]interface{}{"estimated_total": p.EstimatedTotal}); err != nil {
		return nil, fmt.Errorf("update total: %w", err)
	}
	return p, nil
}

// History 流程操作记录
func (s *ProcessService) History(ctx context.Context, id string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	return s.logRepo.FindByEntity(ctx, "process", id, page, pageSize)
}

// prepareFunc 在计算下一阶段前修改流程或守卫数据
type prepareFunc func(p *entity.Process, g *phase.Guard) error

// transition 读取流程 -> 计算守卫 -> 查表 -> 盖日期戳 -> 按原阶段条件写入
func (s *ProcessService) transition(ctx context.Context, id, userID string, action phase.Action, note string, prepare prepareFunc) (*entity.Process, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := p.Phase
	guard := phase.Guard{
		HasSchedule: p.Schedule().Complete(),
		ActiveItems: p.ActiveItemCount(),
	}
	if prepare != nil {
		if err := prepare(p, &guard); err != nil {
			return nil, err
		}
	}

	to, err := phase.Next(from, action, guard)
	if err != nil {
		return nil, err
	}

	p.Phase = to
	if to != from {
		p.StampPhaseDate(to, s.clock.Now())
	}

	res := s.db.WithContext(ctx).
		Model(p).
		Where("phase = ?", from).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(p)
	if res.Error != nil {
		return nil, fmt.Errorf("save process phase: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition,
			"process %s left phase %s concurrently, reload and retry", p.ProcessNumber, from)
	}

	s.logActivity(ctx, p, string(action), from, to, note, userID, nil)
	s.logger.Info("process phase changed",
		zap.String("process_id", p.ID),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return p, nil
}

func (s *ProcessService) logActivity(ctx context.Context, p *entity.Process, action string, from, to phase.Phase, content, userID string, metadata map[string]interface{}) {
	if err := s.logRepo.LogActivity(ctx, "process", p.ID, p.ProcessNumber, action, string(from), string(to), content, userID, metadata); err != nil {
		s.logger.Warn("write activity log failed", zap.String("process_id", p.ID), zap.Error(err))
	}
}

func requirePhase(want phase.Phase) prepareFunc {
	return func(p *entity.Process, g *phase.Guard) error {
		if p.Phase != want {
			return apperr.Validation(apperr.CodeInvalidTransition,
				"operation requires phase %s, current phase %s", want, p.Phase)
		}
		return nil
	}
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "reason is required")
	}
	return nil
}

func checkScheduleOrder(s entity.Schedule) error {
	if s.IntakeStart != nil && s.IntakeEnd != nil && !s.IntakeEnd.After(*s.IntakeStart) {
		return apperr.Validation(apperr.CodeInvalidInput, "intake end must be after intake start")
	}
	return nil
}

func checkSecrecy(secrecy, justification string) (string, error) {
	if secrecy == "" {
		secrecy = entity.BudgetPublic
	}
	switch secrecy {
	case entity.BudgetPublic:
	case entity.BudgetSecret:
		if strings.TrimSpace(justification) == "" {
			return "", apperr.Validation(apperr.CodeInvalidInput, "secret budget requires a justification")
		}
	default:
		return "", apperr.Validation(apperr.CodeInvalidInput, "unknown budget secrecy %s", secrecy)
	}
	return secrecy, nil
}

func validLinkMode(m entity.PlanLinkMode) bool {
	switch m {
	case entity.LinkByProcess, entity.LinkByLot, entity.LinkByItem:
		return true
	}
	return false
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
