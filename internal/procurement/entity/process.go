package entity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

// 采购方式
const (
	ModalityPregaoEletronico   = "PREGAO_ELETRONICO"
	ModalityPregaoPresencial   = "PREGAO_PRESENCIAL"
	ModalityConcorrencia       = "CONCORRENCIA"
	ModalityConcurso           = "CONCURSO"
	ModalityLeilao             = "LEILAO"
	ModalityDialogoCompetitivo = "DIALOGO_COMPETITIVO"
	ModalityDispensaEletronica = "DISPENSA_ELETRONICA"
	ModalityInexigibilidade    = "INEXIGIBILIDADE"
	ModalityCredenciamento     = "CREDENCIAMENTO"
)

// 评审标准
const (
	CriterionLowestPrice       = "MENOR_PRECO"
	CriterionHighestDiscount   = "MAIOR_DESCONTO"
	CriterionBestTechnique     = "MELHOR_TECNICA"
	CriterionTechniqueAndPrice = "TECNICA_E_PRECO"
	CriterionHighestBid        = "MAIOR_LANCE"
	CriterionHighestReturn     = "MAIOR_RETORNO_ECONOMICO"
)

// 竞价模式
const (
	DisputeModeOpen       = "ABERTO"
	DisputeModeOpenClosed = "ABERTO_FECHADO"
	DisputeModeClosedOpen = "FECHADO_ABERTO"
	DisputeModeClosed     = "FECHADO"
)

// 预算保密
const (
	BudgetPublic = "PUBLICO"
	BudgetSecret = "SIGILOSO"
)

// PlanLinkMode 年度计划关联方式
type PlanLinkMode string

const (
	LinkByProcess PlanLinkMode = "BY_PROCESS"
	LinkByLot     PlanLinkMode = "BY_LOT"
	LinkByItem    PlanLinkMode = "BY_ITEM"
)

// MinJustificationLength 无计划关联时说明的最小长度
const MinJustificationLength = 50

// CheckNoPlanJustification 无计划关联时必须给出不少于50字的说明
func CheckNoPlanJustification(noPlan bool, justification string) error {
	if !noPlan {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(justification)) < MinJustificationLength {
		return apperr.Validation(apperr.CodeJustificationTooShort,
			"justification must have at least %d characters", MinJustificationLength)
	}
	return nil
}

// Process 采购流程
type Process struct {
	ID                   string       `json:"id" gorm:"primaryKey;size:32"`
	ProcessNumber        string       `json:"process_number" gorm:"size:50;not null;uniqueIndex"`
	NoticeNumber         string       `json:"notice_number" gorm:"size:50"`
	Year                 int          `json:"year" gorm:"not null;index"`
	Sequence             int          `json:"sequence" gorm:"not null"`
	OrgID                string       `json:"org_id" gorm:"size:32;index"`
	Object               string       `json:"object" gorm:"type:text;not null"`
	DetailedObject       string       `json:"detailed_object" gorm:"type:text"`
	Justification        string       `json:"justification" gorm:"type:text"`
	Modality             string       `json:"modality" gorm:"size:40;not null;default:PREGAO_ELETRONICO"`
	Criterion            string       `json:"criterion" gorm:"size:40;not null;default:MENOR_PRECO"`
	DisputeMode          string       `json:"dispute_mode" gorm:"size:20;not null;default:ABERTO"`
	Phase                phase.Phase  `json:"phase" gorm:"size:30;not null;index"`
	BudgetSecrecy        string       `json:"budget_secrecy" gorm:"size:10;not null;default:PUBLICO"`
	SecrecyJustification string       `json:"secrecy_justification" gorm:"type:text"`
	SRP                  bool         `json:"srp"`
	SmallBusinessFavored bool         `json:"small_business_favored"`
	UsesLots             bool         `json:"uses_lots"`
	PlanLinkMode         PlanLinkMode `json:"plan_link_mode" gorm:"size:20;not null;default:BY_ITEM"`
	PlanLineID           *string      `json:"plan_line_id" gorm:"size:32;index"`
	NoPlan               bool         `json:"no_plan"`
	NoPlanJustification  string       `json:"no_plan_justification" gorm:"type:text"`

	EstimatedTotal decimal.Decimal `json:"estimated_total" gorm:"type:decimal(20,4);not null;default:0"`
	RatifiedValue  decimal.Decimal `json:"ratified_value" gorm:"type:decimal(20,4);not null;default:0"`

	// 内部阶段时间戳
	OpenedAt       *time.Time `json:"opened_at"`
	TRApprovedAt   *time.Time `json:"tr_approved_at"`
	LegalOpinionAt *time.Time `json:"legal_opinion_at"`
	AuthorizedAt   *time.Time `json:"authorized_at"`

	// 公告日程
	PublicationDate   *time.Time `json:"publication_date"`
	ChallengeDeadline *time.Time `json:"challenge_deadline"`
	IntakeStart       *time.Time `json:"intake_start" gorm:"index"`
	IntakeEnd         *time.Time `json:"intake_end" gorm:"index"`
	SessionOpening    *time.Time `json:"session_opening"`

	DisputeStartedAt *time.Time `json:"dispute_started_at"`
	DisputeEndedAt   *time.Time `json:"dispute_ended_at"`
	AwardedAt        *time.Time `json:"awarded_at"`
	HomologatedAt    *time.Time `json:"homologated_at"`

	// PNCP标识
	RegistryControlNumber string `json:"registry_control_number" gorm:"size:60;index"`
	RegistryYear          int    `json:"registry_year"`
	RegistrySequence      int    `json:"registry_sequence"`
	RegistryLink          string `json:"registry_link" gorm:"size:255"`
	PublishedToRegistry   bool   `json:"published_to_registry"`
	EdictDocumentKey      string `json:"edict_document_key" gorm:"size:255"` // MinIO对象名

	Notes     string    `json:"notes" gorm:"type:text"`
	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lots  []Lot      `json:"lots,omitempty" gorm:"foreignKey:ProcessID;constraint:OnDelete:CASCADE"`
	Items []LineItem `json:"items,omitempty" gorm:"foreignKey:ProcessID;constraint:OnDelete:CASCADE"`
}

func (Process) TableName() string {
	return "procurement_processes"
}

// Schedule 发布公告的五个日期
type Schedule struct {
	PublicationDate   *time.Time `json:"publication_date"`
	ChallengeDeadline *time.Time `json:"challenge_deadline"`
	IntakeStart       *time.Time `json:"intake_start"`
	IntakeEnd         *time.Time `json:"intake_end"`
	SessionOpening    *time.Time `json:"session_opening"`
}

// Complete 五个日期是否齐全
func (s Schedule) Complete() bool {
	return s.PublicationDate != nil && s.ChallengeDeadline != nil &&
		s.IntakeStart != nil && s.IntakeEnd != nil && s.SessionOpening != nil
}

// Schedule 当前记录的日程
func (p *Process) Schedule() Schedule {
	return Schedule{
		PublicationDate:   p.PublicationDate,
		ChallengeDeadline: p.ChallengeDeadline,
		IntakeStart:       p.IntakeStart,
		IntakeEnd:         p.IntakeEnd,
		SessionOpening:    p.SessionOpening,
	}
}

// ApplySchedule 写入日程
func (p *Process) ApplySchedule(s Schedule) {
	p.PublicationDate = s.PublicationDate
	p.ChallengeDeadline = s.ChallengeDeadline
	p.IntakeStart = s.IntakeStart
	p.IntakeEnd = s.IntakeEnd
	p.SessionOpening = s.SessionOpening
}

// StampPhaseDate 进入阶段时记录对应日期
func (p *Process) StampPhaseDate(to phase.Phase, now time.Time) {
	switch to {
	case phase.TermsOfReference:
		p.TRApprovedAt = &now
	case phase.LegalReview:
		p.LegalOpinionAt = &now
	case phase.InternalApproval:
		p.AuthorizedAt = &now
	case phase.Dispute:
		p.DisputeStartedAt = &now
	case phase.Judgment:
		p.DisputeEndedAt = &now
	case phase.Award:
		p.AwardedAt = &now
	case phase.Homologation:
		p.HomologatedAt = &now
	}
}

// ActiveItemCount 有效行项数
func (p *Process) ActiveItemCount() int {
	n := 0
	for _, it := range p.Items {
		if it.Status == ItemStatusActive {
			n++
		}
	}
	return n
}

// RecalculateTotal 按非取消行项汇总预估金额
func (p *Process) RecalculateTotal() {
	total := decimal.Zero
	for _, it := range p.Items {
		if it.Status != ItemStatusCancelled {
			total = total.Add(it.TotalEstimated)
		}
	}
	p.EstimatedTotal = total
}
