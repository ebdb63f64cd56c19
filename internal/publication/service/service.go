package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	planentity "github.com/valleteclab/portaldcp/internal/planning/entity"
	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	"github.com/valleteclab/portaldcp/internal/publication/entity"
	"github.com/valleteclab/portaldcp/internal/publication/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
	"github.com/valleteclab/portaldcp/internal/shared/reqctx"
	"github.com/valleteclab/portaldcp/internal/shared/storage"
	"go.uber.org/zap"
)

// Registry 平台接口（*pncp.Client实现）
type Registry interface {
	CreatePurchase(ctx context.Context, cnpj string, p *pncp.Purchase, doc *pncp.Attachment) (*pncp.Receipt, error)
	UpdatePurchase(ctx context.Context, id pncp.Identifier, p *pncp.Purchase) error
	GetPurchase(ctx context.Context, id pncp.Identifier) (*pncp.Purchase, bool, error)
	AddItems(ctx context.Context, id pncp.Identifier, items []pncp.Item) error
	PatchItem(ctx context.Context, id pncp.Identifier, item *pncp.Item) error
	SubmitResult(ctx context.Context, id pncp.Identifier, itemNumber int, r *pncp.Result) error
	UploadDocument(ctx context.Context, id pncp.Identifier, doc *pncp.Attachment) error
	SubmitContract(ctx context.Context, cnpj string, ct *pncp.Contract) (*pncp.Receipt, error)
	SubmitPlan(ctx context.Context, cnpj string, p *pncp.Plan) (*pncp.Receipt, error)
	SubmitPlanLine(ctx context.Context, cnpj string, id pncp.Identifier, item *pncp.PlanItem) (*pncp.Receipt, error)
	DeletePlan(ctx context.Context, cnpj string, id pncp.Identifier, justification string) error
	Authenticate(ctx context.Context) (time.Time, error)
	BaseURL() string
	Configured() bool
}

// RecordStore 同步记录持久化（*repository.SyncRepository实现）
type RecordStore interface {
	FindByID(ctx context.Context, id string) (*entity.SyncRecord, error)
	FindByKindTarget(ctx context.Context, kind, targetID string) (*entity.SyncRecord, error)
	Create(ctx context.Context, rec *entity.SyncRecord) error
	Save(ctx context.Context, rec *entity.SyncRecord) error
	ListByStatus(ctx context.Context, status string, limit int) ([]entity.SyncRecord, error)
	ListByTarget(ctx context.Context, targetID string) ([]entity.SyncRecord, error)
	ListByProcess(ctx context.Context, processID string) ([]entity.SyncRecord, error)
	CountByKindStatus(ctx context.Context) ([]repository.CountRow, error)
}

// ProcessSource 流程读取与回写
type ProcessSource interface {
	Get(ctx context.Context, id string) (*procentity.Process, error)
	ConfirmRegistryPublication(ctx context.Context, id, userID string, ids procservice.RegistryIdentifiers) (*procentity.Process, error)
}

// ItemSource 行项读取
type ItemSource interface {
	Get(ctx context.Context, id string) (*procentity.LineItem, error)
}

// PlanSource 年度计划读取与回写
type PlanSource interface {
	Get(ctx context.Context, id string) (*planentity.AnnualPlan, error)
	GetLine(ctx context.Context, id string) (*planentity.PlanLine, error)
	MarkSent(ctx context.Context, id, controlNumber string, sequence int) (*planentity.AnnualPlan, error)
	RecordLineRegistration(ctx context.Context, lineID string, sequence int) error
	WithdrawFromRegistry(ctx context.Context, id string) (*planentity.AnnualPlan, error)
}

// DocumentStore 附件读取
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Deps 同步服务依赖
type Deps struct {
	Registry  Registry
	Records   RecordStore
	Processes ProcessSource
	Items     ItemSource
	Plans     PlanSource
	Documents DocumentStore
}

// SyncService 平台报送：映射、提交、记录结果
type SyncService struct {
	registry  Registry
	records   RecordStore
	processes ProcessSource
	items     ItemSource
	plans     PlanSource
	documents DocumentStore
	settings  Settings
	parser    pncp.DuplicateParser
	logger    *zap.Logger
	now       func() time.Time
}

func NewSyncService(deps Deps, settings Settings) *SyncService {
	return &SyncService{
		registry:  deps.Registry,
		records:   deps.Records,
		processes: deps.Processes,
		items:     deps.Items,
		plans:     deps.Plans,
		documents: deps.Documents,
		settings:  settings,
		parser:    pncp.RegexDuplicateParser{CNPJ: settings.CNPJ},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// SetLogger 设置日志
func (s *SyncService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// log 附带请求ID和操作人
func (s *SyncService) log(ctx context.Context) *zap.Logger {
	return reqctx.Logger(ctx, s.logger)
}

// SetClock 测试用
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// SetDuplicateParser 替换"记录已存在"消息解析器
func (s *SyncService) SetDuplicateParser(p pncp.DuplicateParser) {
	if p != nil {
		s.parser = p
	}
}

// ItemOutcome 单个行项的报送结果
type ItemOutcome struct {
	ItemID string `json:"item_id"`
	Number int    `json:"number"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Outcome 一次报送操作的结果
type Outcome struct {
	Record        *entity.SyncRecord `json:"record,omitempty"`
	Report        *ValidationReport  `json:"report,omitempty"`
	ControlNumber string             `json:"control_number,omitempty"`
	Linked        bool               `json:"linked"` // 平台已有记录，直接关联
	Items         []ItemOutcome      `json:"items,omitempty"`
}

// FailedItems 失败的行项数
func (o *Outcome) FailedItems() int {
	n := 0
	for _, it := range o.Items {
		if it.Status == entity.StatusError {
			n++
		}
	}
	return n
}

// ValidateProcess 只做报送前检查，不调用平台
func (s *SyncService) ValidateProcess(ctx context.Context, processID string) (*ValidationReport, error) {
	p, err := s.processes.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	return ValidateProcess(p, s.settings, s.now()), nil
}

// SubmitProcess 首次报送流程；已报送过的转为整体更新
func (s *SyncService) SubmitProcess(ctx context.Context, processID, operatorID string) (*Outcome, error) {
	p, err := s.processes.Get(ctx, processID)
	if err != nil {
		return nil, err
	}

	rec, err := s.records.FindByKindTarget(ctx, entity.KindProcess, p.ID)
	if err != nil {
		return nil, fmt.Errorf("find sync record: %w", err)
	}
	if rec != nil && rec.Delivered() && !p.PublishedToRegistry && rec.RegistrySequence > 0 {
		// 平台已接收但回写流程失败过
		ids := procservice.RegistryIdentifiers{ControlNumber: rec.ControlNumber, Year: rec.RegistryYear, Sequence: rec.RegistrySequence}
		if _, err := s.processes.ConfirmRegistryPublication(ctx, p.ID, operatorID, ids); err != nil {
			return nil, fmt.Errorf("record registry identifiers on process: %w", err)
		}
		return &Outcome{Record: rec, ControlNumber: rec.ControlNumber, Linked: true}, nil
	}
	if p.PublishedToRegistry {
		return s.UpdateProcess(ctx, processID, operatorID)
	}

	report := ValidateProcess(p, s.settings, s.now())
	if !report.Valid {
		return &Outcome{Report: report}, apperr.Validation(apperr.CodeChecklistFailed, "process is not ready for the registry: %s", report.Summary())
	}

	if rec == nil {
		rec = s.newRecord(entity.KindProcess, "process", p.ID, &p.ID)
	}
	purchase := MapPurchase(p, s.settings, s.now())
	purchase.ItensCompra = MapItems(p)
	if err := s.begin(ctx, rec, operatorID, purchase); err != nil {
		return nil, err
	}

	doc, err := s.edictAttachment(ctx, p)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}

	out := &Outcome{Report: report}
	receipt, err := s.registry.CreatePurchase(ctx, s.settings.CNPJ, purchase, doc)
	if err != nil {
		existing, ok := s.existingPurchase(ctx, err)
		if !ok {
			return nil, s.fail(ctx, rec, err)
		}
		s.log(ctx).Info("registry already holds this purchase, linking",
			zap.String("process_id", p.ID),
			zap.String("control_number", existing.NumeroControlePNCP))
		receipt = existing
		out.Linked = true
	}

	ids := s.identifiersFrom(receipt)
	rec.ControlNumber = ids.ControlNumber
	rec.RegistryYear = ids.Year
	rec.RegistrySequence = ids.Sequence
	if err := s.succeed(ctx, rec, entity.StatusSent, receipt); err != nil {
		return nil, err
	}
	out.Record = rec
	out.ControlNumber = ids.ControlNumber

	if _, err := s.processes.ConfirmRegistryPublication(ctx, p.ID, operatorID, ids); err != nil {
		return out, fmt.Errorf("record registry identifiers on process: %w", err)
	}
	s.log(ctx).Info("process published to registry",
		zap.String("process_id", p.ID),
		zap.String("control_number", ids.ControlNumber),
		zap.Bool("linked", out.Linked))
	return out, nil
}

// UpdateProcess 整体更新后逐项PATCH；单项失败记录并继续，平台缺失的行项批量补发
func (s *SyncService) UpdateProcess(ctx context.Context, processID, operatorID string) (*Outcome, error) {
	p, err := s.processes.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !p.PublishedToRegistry || p.RegistrySequence <= 0 {
		return nil, apperr.Validation(apperr.CodeNotSubmitted, "process %s has not been published to the registry", p.ProcessNumber)
	}
	id := s.processIdentifier(p)

	rec, err := s.recordFor(ctx, entity.KindProcess, "process", p.ID, &p.ID)
	if err != nil {
		return nil, err
	}
	purchase := MapPurchase(p, s.settings, s.now())
	if err := s.begin(ctx, rec, operatorID, purchase); err != nil {
		return nil, err
	}
	if err := s.registry.UpdatePurchase(ctx, id, purchase); err != nil {
		return nil, s.fail(ctx, rec, err)
	}

	out := &Outcome{Record: rec, ControlNumber: p.RegistryControlNumber}
	var missing []pncp.Item
	var missingRecs []*entity.SyncRecord
	for i := range p.Items {
		it := &p.Items[i]
		item := MapItem(it, p)
		itemRec, err := s.recordFor(ctx, entity.KindItem, "item", it.ID, &p.ID)
		if err != nil {
			return nil, err
		}
		if err := s.begin(ctx, itemRec, operatorID, item); err != nil {
			return nil, err
		}

		err = s.registry.PatchItem(ctx, id, &item)
		var apiErr *pncp.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			// 平台上没有该行项：已取消的无需处理，其余批量补发
			if it.Status == procentity.ItemStatusCancelled {
				err = nil
			} else {
				missing = append(missing, item)
				missingRecs = append(missingRecs, itemRec)
				continue
			}
		}
		out.Items = append(out.Items, s.itemOutcome(ctx, itemRec, it, err))
	}

	if len(missing) > 0 {
		err := s.registry.AddItems(ctx, id, missing)
		for i, itemRec := range missingRecs {
			number := missing[i].NumeroItem
			out.Items = append(out.Items, s.itemOutcome(ctx, itemRec, &procentity.LineItem{ID: itemRec.TargetID, Number: number}, err))
		}
	}

	if err := s.succeed(ctx, rec, entity.StatusUpdated, nil); err != nil {
		return nil, err
	}
	if failed := out.FailedItems(); failed > 0 {
		s.log(ctx).Warn("registry update finished with item failures",
			zap.String("process_id", p.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(out.Items)))
	}
	return out, nil
}

// SubmitResult 报送已授予行项的结果
func (s *SyncService) SubmitResult(ctx context.Context, itemID, operatorID string, req *ResultRequest) (*Outcome, error) {
	it, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.Status != procentity.ItemStatusAwarded && it.Status != procentity.ItemStatusRatified {
		return nil, apperr.Validation(apperr.CodeItemNotActive, "item %d has not been awarded", it.Number)
	}
	if !it.UnitAwarded.Valid {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "item %d has no awarded value", it.Number)
	}
	if !pncp.ValidCNPJ(req.SupplierDocument) && len(pncp.DigitsOnly(req.SupplierDocument)) != 11 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "supplier document must be a valid CNPJ or an 11 digit CPF")
	}
	p, err := s.publishedProcess(ctx, it.ProcessID)
	if err != nil {
		return nil, err
	}

	rec, err := s.recordFor(ctx, entity.KindResult, "item", it.ID, &p.ID)
	if err != nil {
		return nil, err
	}
	return s.sendResult(ctx, rec, operatorID, s.processIdentifier(p), it.Number, MapResult(it, req, s.now()))
}

func (s *SyncService) sendResult(ctx context.Context, rec *entity.SyncRecord, operatorID string, id pncp.Identifier, itemNumber int, result *pncp.Result) (*Outcome, error) {
	if err := s.begin(ctx, rec, operatorID, result); err != nil {
		return nil, err
	}
	if err := s.registry.SubmitResult(ctx, id, itemNumber, result); err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	rec.ControlNumber = id.ControlNumber()
	if err := s.succeed(ctx, rec, successStatus(rec), nil); err != nil {
		return nil, err
	}
	return &Outcome{Record: rec, ControlNumber: rec.ControlNumber}, nil
}

// SubmitContract 报送流程产生的合同
func (s *SyncService) SubmitContract(ctx context.Context, processID, operatorID string, req *ContractRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Number) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "contract number is required")
	}
	if req.ValidUntil.Before(req.ValidFrom) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "contract validity ends before it starts")
	}
	p, err := s.publishedProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	rec, err := s.recordFor(ctx, entity.KindContract, "contract", p.ID+":"+req.Number, &p.ID)
	if err != nil {
		return nil, err
	}
	return s.sendContract(ctx, rec, operatorID, MapContract(p, req))
}

func (s *SyncService) sendContract(ctx context.Context, rec *entity.SyncRecord, operatorID string, ct *pncp.Contract) (*Outcome, error) {
	if err := s.begin(ctx, rec, operatorID, ct); err != nil {
		return nil, err
	}
	receipt, err := s.registry.SubmitContract(ctx, s.settings.CNPJ, ct)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	ids := s.identifiersFrom(receipt)
	rec.ControlNumber, rec.RegistryYear, rec.RegistrySequence = ids.ControlNumber, ids.Year, ids.Sequence
	if err := s.succeed(ctx, rec, successStatus(rec), receipt); err != nil {
		return nil, err
	}
	return &Outcome{Record: rec, ControlNumber: ids.ControlNumber}, nil
}

// SubmitAnnualPlan 报送年度计划，成功后计划进入已报送状态
func (s *SyncService) SubmitAnnualPlan(ctx context.Context, planID, operatorID string) (*Outcome, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != planentity.PlanStatusApproved && plan.Status != planentity.PlanStatusPublished {
		return nil, apperr.Validation(apperr.CodeInvalidTransition, "plan %s must be approved before it is sent, current status %s", plan.Number, plan.Status)
	}
	if !pncp.ValidCNPJ(s.settings.CNPJ) {
		return nil, apperr.Validation(apperr.CodeChecklistFailed, "organization CNPJ is missing or invalid")
	}
	payload := MapPlan(plan, s.settings, s.now())
	if len(payload.Itens) == 0 {
		return nil, apperr.Validation(apperr.CodeChecklistFailed, "plan %s has no lines to send", plan.Number)
	}

	rec, err := s.recordFor(ctx, entity.KindAnnualPlan, "plan", plan.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, rec, operatorID, payload); err != nil {
		return nil, err
	}
	receipt, err := s.registry.SubmitPlan(ctx, s.settings.CNPJ, payload)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	ids := s.identifiersFrom(receipt)
	rec.ControlNumber, rec.RegistryYear, rec.RegistrySequence = ids.ControlNumber, ids.Year, ids.Sequence
	if err := s.succeed(ctx, rec, successStatus(rec), receipt); err != nil {
		return nil, err
	}

	out := &Outcome{Record: rec, ControlNumber: ids.ControlNumber}
	if _, err := s.plans.MarkSent(ctx, plan.ID, ids.ControlNumber, ids.Sequence); err != nil {
		return out, fmt.Errorf("mark plan as sent: %w", err)
	}
	for i := range plan.Lines {
		line := &plan.Lines[i]
		if line.Status == planentity.LineStatusCancelled {
			continue
		}
		if err := s.plans.RecordLineRegistration(ctx, line.ID, line.Number); err != nil {
			s.log(ctx).Warn("record plan line registration failed", zap.String("line_id", line.ID), zap.Error(err))
		}
	}
	return out, nil
}

// SubmitPlanLine 向已报送的年度计划追加单行
func (s *SyncService) SubmitPlanLine(ctx context.Context, lineID, operatorID string) (*Outcome, error) {
	line, err := s.plans.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.Get(ctx, line.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.RegistrySequence <= 0 {
		return nil, apperr.Validation(apperr.CodeNotSubmitted, "plan %s has not been sent to the registry", plan.Number)
	}
	if line.Status == planentity.LineStatusCancelled {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "plan line %d is cancelled", line.Number)
	}

	rec, err := s.recordFor(ctx, entity.KindPlanLine, "plan_line", line.ID, nil)
	if err != nil {
		return nil, err
	}
	item := MapPlanLine(line)
	if err := s.begin(ctx, rec, operatorID, item); err != nil {
		return nil, err
	}
	id := pncp.Identifier{CNPJ: pncp.DigitsOnly(s.settings.CNPJ), Year: plan.Year, Sequence: plan.RegistrySequence}
	receipt, err := s.registry.SubmitPlanLine(ctx, s.settings.CNPJ, id, &item)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}

	sequence := line.Number
	if receipt != nil && receipt.Sequencial > 0 {
		sequence = receipt.Sequencial
	}
	rec.ControlNumber, rec.RegistryYear, rec.RegistrySequence = plan.RegistryControlNumber, plan.Year, sequence
	if err := s.succeed(ctx, rec, successStatus(rec), receipt); err != nil {
		return nil, err
	}
	if err := s.plans.RecordLineRegistration(ctx, line.ID, sequence); err != nil {
		s.log(ctx).Warn("record plan line registration failed", zap.String("line_id", line.ID), zap.Error(err))
	}
	return &Outcome{Record: rec, ControlNumber: plan.RegistryControlNumber}, nil
}

// minWithdrawJustification 平台要求的删除理由最短长度
const minWithdrawJustification = 15

// DeleteAnnualPlan 在平台删除已报送的年度计划，本地计划回到已审批。
// 平台拒绝时记录保持原状态，只记下错误，避免重试把计划再报送一次。
func (s *SyncService) DeleteAnnualPlan(ctx context.Context, planID, operatorID, justification string) (*Outcome, error) {
	justification = strings.TrimSpace(justification)
	if len([]rune(justification)) < minWithdrawJustification {
		return nil, apperr.Validation(apperr.CodeJustificationTooShort, "justification must have at least %d characters", minWithdrawJustification)
	}
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.FindByKindTarget(ctx, entity.KindAnnualPlan, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("find sync record: %w", err)
	}
	if rec == nil || !rec.Delivered() || plan.RegistrySequence <= 0 {
		return nil, apperr.Validation(apperr.CodeNotSubmitted, "plan %s has not been sent to the registry", plan.Number)
	}
	for _, l := range plan.Lines {
		if l.ConsumedValue.IsPositive() {
			return nil, apperr.Validation(apperr.CodePlanImmutable, "plan line %d is already linked to procurements", l.Number)
		}
	}

	id := pncp.Identifier{CNPJ: pncp.DigitsOnly(s.settings.CNPJ), Year: plan.Year, Sequence: plan.RegistrySequence}
	if err := s.registry.DeletePlan(ctx, s.settings.CNPJ, id, justification); err != nil {
		rec.AttemptCount++
		rec.LastError = pncp.Message(err)
		if perr := s.persist(ctx, rec); perr != nil {
			s.log(ctx).Error("save sync record", zap.String("record_id", rec.ID), zap.Error(perr))
		}
		s.log(ctx).Warn("registry plan deletion failed",
			zap.String("plan_id", plan.ID),
			zap.String("control_number", plan.RegistryControlNumber),
			zap.String("error", rec.LastError))
		return nil, pncp.Classify(err)
	}

	controlNumber := plan.RegistryControlNumber
	rec.Withdrawn(operatorID, s.now())
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	out := &Outcome{Record: rec, ControlNumber: controlNumber}
	if _, err := s.plans.WithdrawFromRegistry(ctx, plan.ID); err != nil {
		return out, fmt.Errorf("withdraw plan: %w", err)
	}
	s.log(ctx).Info("plan deleted from registry",
		zap.String("plan_id", plan.ID),
		zap.String("control_number", controlNumber))
	return out, nil
}

// UploadRequest 上传文档到已公示的采购
type UploadRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
	TypeID    int    `json:"type_id"`
	Title     string `json:"title"`
}

// UploadDocument 从附件存储读取文件并上传
func (s *SyncService) UploadDocument(ctx context.Context, processID, operatorID string, req *UploadRequest) (*Outcome, error) {
	if strings.TrimSpace(req.ObjectKey) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "object key is required")
	}
	p, err := s.publishedProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	rec, err := s.recordFor(ctx, entity.KindDocument, "document", p.ID+":"+req.ObjectKey, &p.ID)
	if err != nil {
		return nil, err
	}
	return s.sendDocument(ctx, rec, operatorID, p, req)
}

func (s *SyncService) sendDocument(ctx context.Context, rec *entity.SyncRecord, operatorID string, p *procentity.Process, req *UploadRequest) (*Outcome, error) {
	if err := s.begin(ctx, rec, operatorID, req); err != nil {
		return nil, err
	}
	doc, err := s.attachment(ctx, req.ObjectKey, req.Title, req.TypeID)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	id := s.processIdentifier(p)
	if err := s.registry.UploadDocument(ctx, id, doc); err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	rec.ControlNumber = p.RegistryControlNumber
	if err := s.succeed(ctx, rec, successStatus(rec), nil); err != nil {
		return nil, err
	}
	return &Outcome{Record: rec, ControlNumber: p.RegistryControlNumber}, nil
}

// Retry 按记录类型重新报送；只处理失败或未完成的记录
func (s *SyncService) Retry(ctx context.Context, recordID, operatorID string) (*Outcome, error) {
	rec, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("sync record", recordID)
		}
		return nil, fmt.Errorf("find sync record: %w", err)
	}
	if rec.Status != entity.StatusError && rec.Status != entity.StatusPending && rec.Status != entity.StatusSending {
		return nil, apperr.Validation(apperr.CodeInvalidTransition, "sync record %s is %s, only failed or pending records can be retried", rec.ID, rec.Status)
	}

	s.log(ctx).Info("retrying registry sync",
		zap.String("record_id", rec.ID),
		zap.String("kind", rec.Kind),
		zap.Int("attempts", rec.AttemptCount))

	switch rec.Kind {
	case entity.KindProcess:
		return s.SubmitProcess(ctx, rec.TargetID, operatorID)
	case entity.KindAnnualPlan:
		return s.SubmitAnnualPlan(ctx, rec.TargetID, operatorID)
	case entity.KindPlanLine:
		return s.SubmitPlanLine(ctx, rec.TargetID, operatorID)
	case entity.KindItem:
		return s.retryItem(ctx, rec, operatorID)
	case entity.KindResult:
		var result pncp.Result
		if err := s.replay(rec, &result); err != nil {
			return nil, err
		}
		it, err := s.items.Get(ctx, rec.TargetID)
		if err != nil {
			return nil, err
		}
		p, err := s.publishedProcess(ctx, it.ProcessID)
		if err != nil {
			return nil, err
		}
		return s.sendResult(ctx, rec, operatorID, s.processIdentifier(p), it.Number, &result)
	case entity.KindContract:
		var ct pncp.Contract
		if err := s.replay(rec, &ct); err != nil {
			return nil, err
		}
		return s.sendContract(ctx, rec, operatorID, &ct)
	case entity.KindDocument:
		var req UploadRequest
		if err := s.replay(rec, &req); err != nil {
			return nil, err
		}
		if rec.ProcessID == nil {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "sync record %s has no process", rec.ID)
		}
		p, err := s.publishedProcess(ctx, *rec.ProcessID)
		if err != nil {
			return nil, err
		}
		return s.sendDocument(ctx, rec, operatorID, p, &req)
	}
	return nil, apperr.Validation(apperr.CodeInvalidInput, "sync record kind %s cannot be retried", rec.Kind)
}

func (s *SyncService) retryItem(ctx context.Context, rec *entity.SyncRecord, operatorID string) (*Outcome, error) {
	it, err := s.items.Get(ctx, rec.TargetID)
	if err != nil {
		return nil, err
	}
	p, err := s.publishedProcess(ctx, it.ProcessID)
	if err != nil {
		return nil, err
	}
	item := MapItem(it, p)
	if err := s.begin(ctx, rec, operatorID, item); err != nil {
		return nil, err
	}
	if err := s.registry.PatchItem(ctx, s.processIdentifier(p), &item); err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	if err := s.succeed(ctx, rec, successStatus(rec), nil); err != nil {
		return nil, err
	}
	return &Outcome{Record: rec, ControlNumber: p.RegistryControlNumber}, nil
}

// ListPending 待发送
func (s *SyncService) ListPending(ctx context.Context, limit int) ([]entity.SyncRecord, error) {
	return s.records.ListByStatus(ctx, entity.StatusPending, limit)
}

// ListErrors 失败待处理
func (s *SyncService) ListErrors(ctx context.Context, limit int) ([]entity.SyncRecord, error) {
	return s.records.ListByStatus(ctx, entity.StatusError, limit)
}

// ListByTarget 某个目标的同步历史
func (s *SyncService) ListByTarget(ctx context.Context, targetID string) ([]entity.SyncRecord, error) {
	return s.records.ListByTarget(ctx, targetID)
}

// ListByProcess 流程及其下属对象的同步记录
func (s *SyncService) ListByProcess(ctx context.Context, processID string) ([]entity.SyncRecord, error) {
	return s.records.ListByProcess(ctx, processID)
}

// Stats 同步统计
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	ByKind   map[string]int64 `json:"by_kind"`
}

// Stats 按状态、类型汇总
func (s *SyncService) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.records.CountByKindStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sync records: %w", err)
	}
	st := &Stats{ByStatus: map[string]int64{}, ByKind: map[string]int64{}}
	for _, r := range rows {
		st.Total += r.Count
		st.ByStatus[r.Status] += r.Count
		st.ByKind[r.Kind] += r.Count
	}
	return st, nil
}

// 平台环境
const (
	EnvironmentTraining     = "TREINAMENTO"
	EnvironmentProduction   = "PRODUÇÃO"
	EnvironmentUnconfigured = "NÃO CONFIGURADO"
)

// ConfigurationStatus 平台接入配置
type ConfigurationStatus struct {
	Configured      bool   `json:"configured"`
	Environment     string `json:"environment"`
	BaseURL         string `json:"base_url"`
	CNPJ            string `json:"cnpj,omitempty"`
	CNPJValid       bool   `json:"cnpj_valid"`
	UnitCode        string `json:"unit_code,omitempty"`
	LoginConfigured bool   `json:"login_configured"`
}

// EnvironmentOf 按地址判断训练/生产环境
func EnvironmentOf(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "treina"):
		return EnvironmentTraining
	case strings.Contains(baseURL, "pncp.gov.br"):
		return EnvironmentProduction
	}
	return EnvironmentUnconfigured
}

// CheckConfiguration 不访问网络
func (s *SyncService) CheckConfiguration() *ConfigurationStatus {
	st := &ConfigurationStatus{
		Environment:     EnvironmentOf(s.registry.BaseURL()),
		BaseURL:         s.registry.BaseURL(),
		CNPJValid:       pncp.ValidCNPJ(s.settings.CNPJ),
		UnitCode:        s.settings.UnitCode,
		LoginConfigured: s.registry.Configured(),
	}
	if s.settings.CNPJ != "" {
		st.CNPJ = pncp.FormatCNPJ(s.settings.CNPJ)
	}
	st.Configured = st.LoginConfigured && st.CNPJValid && st.UnitCode != "" && st.Environment != EnvironmentUnconfigured
	return st
}

// ConnectionStatus 连接测试结果
type ConnectionStatus struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TestConnection 强制登录一次
func (s *SyncService) TestConnection(ctx context.Context) *ConnectionStatus {
	exp, err := s.registry.Authenticate(ctx)
	if err != nil {
		s.log(ctx).Warn("registry connection test failed", zap.Error(err))
		return &ConnectionStatus{Success: false, Message: pncp.Message(err)}
	}
	return &ConnectionStatus{Success: true, Message: "registry login succeeded", ExpiresAt: &exp}
}

// existingPurchase 平台提示记录已存在时解析标识并确认记录确实存在
func (s *SyncService) existingPurchase(ctx context.Context, submitErr error) (*pncp.Receipt, bool) {
	id, ok := s.parser.Parse(pncp.Message(submitErr))
	if !ok {
		return nil, false
	}
	_, found, err := s.registry.GetPurchase(ctx, id)
	if err != nil {
		s.log(ctx).Warn("could not confirm existing registry purchase, linking by parsed identifier",
			zap.String("control_number", id.ControlNumber()), zap.Error(err))
	} else if !found {
		return nil, false
	}
	return &pncp.Receipt{NumeroControlePNCP: id.ControlNumber(), Ano: id.Year, Sequencial: id.Sequence}, true
}

func (s *SyncService) identifiersFrom(r *pncp.Receipt) procservice.RegistryIdentifiers {
	ids := procservice.RegistryIdentifiers{}
	if r == nil {
		return ids
	}
	ids.ControlNumber = r.NumeroControlePNCP
	ids.Year = r.Ano
	ids.Sequence = r.Sequencial
	ids.Link = r.Link
	if ids.ControlNumber == "" && ids.Sequence > 0 {
		ids.ControlNumber = pncp.Identifier{CNPJ: pncp.DigitsOnly(s.settings.CNPJ), Year: r.Ano, Sequence: r.Sequencial}.ControlNumber()
	}
	return ids
}

func (s *SyncService) processIdentifier(p *procentity.Process) pncp.Identifier {
	return pncp.Identifier{CNPJ: pncp.DigitsOnly(s.settings.CNPJ), Year: p.RegistryYear, Sequence: p.RegistrySequence}
}

func (s *SyncService) publishedProcess(ctx context.Context, id string) (*procentity.Process, error) {
	p, err := s.processes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.PublishedToRegistry || p.RegistrySequence <= 0 {
		return nil, apperr.Validation(apperr.CodeNotSubmitted, "process %s has not been published to the registry", p.ProcessNumber)
	}
	return p, nil
}

func (s *SyncService) edictAttachment(ctx context.Context, p *procentity.Process) (*pncp.Attachment, error) {
	title := "Edital " + p.ProcessNumber
	return s.attachment(ctx, p.EdictDocumentKey, title, pncp.DocumentEdital)
}

func (s *SyncService) attachment(ctx context.Context, key, title string, typeID int) (*pncp.Attachment, error) {
	if s.documents == nil {
		return nil, errors.New("attachment storage is not configured")
	}
	content, err := s.documents.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", key, err)
	}
	name := path.Base(key)
	if title == "" {
		title = name
	}
	if typeID == 0 {
		typeID = pncp.DocumentOutros
	}
	return &pncp.Attachment{
		FileName: name,
		Title:    title,
		TypeID:   typeID,
		Content:  content,
		MimeType: storage.ContentType(name),
	}, nil
}

func (s *SyncService) newRecord(kind, targetType, targetID string, processID *string) *entity.SyncRecord {
	return &entity.SyncRecord{
		ID:         uuid.New().String()[:32],
		Kind:       kind,
		TargetType: targetType,
		TargetID:   targetID,
		ProcessID:  processID,
		Status:     entity.StatusPending,
	}
}

// recordFor 查找已有记录，没有则新建（begin时落库）
func (s *SyncService) recordFor(ctx context.Context, kind, targetType, targetID string, processID *string) (*entity.SyncRecord, error) {
	rec, err := s.records.FindByKindTarget(ctx, kind, targetID)
	if err != nil {
		return nil, fmt.Errorf("find sync record: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	return s.newRecord(kind, targetType, targetID, processID), nil
}

func (s *SyncService) begin(ctx context.Context, rec *entity.SyncRecord, operatorID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	rec.Begin(operatorID, raw, s.now())
	return s.persist(ctx, rec)
}

func (s *SyncService) succeed(ctx context.Context, rec *entity.SyncRecord, status string, response interface{}) error {
	var raw []byte
	if response != nil {
		raw, _ = json.Marshal(response)
	}
	rec.Succeed(status, raw, s.now())
	return s.persist(ctx, rec)
}

// fail 记录失败并返回分类后的错误
func (s *SyncService) fail(ctx context.Context, rec *entity.SyncRecord, cause error) error {
	rec.Fail(pncp.Message(cause))
	if err := s.persist(ctx, rec); err != nil {
		s.log(ctx).Error("save failed sync record", zap.String("record_id", rec.ID), zap.Error(err))
	}
	s.log(ctx).Warn("registry sync failed",
		zap.String("record_id", rec.ID),
		zap.String("kind", rec.Kind),
		zap.String("target_id", rec.TargetID),
		zap.Int("attempts", rec.AttemptCount),
		zap.String("error", rec.LastError))
	return pncp.Classify(cause)
}

func (s *SyncService) persist(ctx context.Context, rec *entity.SyncRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
		if err := s.records.Create(ctx, rec); err != nil {
			rec.CreatedAt = time.Time{}
			return fmt.Errorf("create sync record: %w", err)
		}
		return nil
	}
	if err := s.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("save sync record: %w", err)
	}
	return nil
}

func (s *SyncService) itemOutcome(ctx context.Context, rec *entity.SyncRecord, it *procentity.LineItem, err error) ItemOutcome {
	out := ItemOutcome{ItemID: it.ID, Number: it.Number}
	if err != nil {
		rec.Fail(pncp.Message(err))
		if perr := s.persist(ctx, rec); perr != nil {
			s.log(ctx).Error("save failed sync record", zap.String("record_id", rec.ID), zap.Error(perr))
		}
		s.log(ctx).Warn("registry item update failed, continuing",
			zap.String("item_id", it.ID),
			zap.Int("number", it.Number),
			zap.String("error", rec.LastError))
		out.Status = entity.StatusError
		out.Error = rec.LastError
		return out
	}
	status := successStatus(rec)
	if perr := s.succeed(ctx, rec, status, nil); perr != nil {
		s.log(ctx).Error("save sync record", zap.String("record_id", rec.ID), zap.Error(perr))
	}
	out.Status = status
	return out
}

func (s *SyncService) replay(rec *entity.SyncRecord, v interface{}) error {
	if len(rec.Payload) == 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "sync record %s has no stored payload to resend", rec.ID)
	}
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return fmt.Errorf("decode stored payload: %w", err)
	}
	return nil
}

// successStatus 首次成功为sent，之前送达过的为updated
func successStatus(rec *entity.SyncRecord) string {
	if rec.SentAt != nil {
		return entity.StatusUpdated
	}
	return entity.StatusSent
}
