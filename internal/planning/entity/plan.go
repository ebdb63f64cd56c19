package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 年度计划状态
const (
	PlanStatusDraft          = "draft"
	PlanStatusInProgress     = "in_progress"
	PlanStatusApproved       = "approved"
	PlanStatusPublished      = "published"
	PlanStatusSentToRegistry = "sent_to_registry"
	PlanStatusCancelled      = "cancelled"
)

// AnnualPlan 年度采购计划（PCA），每个机构每年一份
type AnnualPlan struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	OrgID       string `json:"org_id" gorm:"size:32;not null;uniqueIndex:idx_plan_org_year"`
	Year        int    `json:"year" gorm:"not null;uniqueIndex:idx_plan_org_year"`
	Number      string `json:"number" gorm:"size:30;not null"` // PCA 2025
	Description string `json:"description" gorm:"type:text"`
	Status      string `json:"status" gorm:"size:20;not null;default:draft;index"`

	TotalEstimated decimal.Decimal `json:"total_estimated" gorm:"type:decimal(20,4);not null;default:0"`
	LineCount      int             `json:"line_count"`

	ApprovedBy  string     `json:"approved_by" gorm:"size:32"`
	ApprovedAt  *time.Time `json:"approved_at"`
	PublishedAt *time.Time `json:"published_at"`

	// PNCP
	RegistryControlNumber string     `json:"registry_control_number" gorm:"size:60"`
	RegistrySequence      int        `json:"registry_sequence"`
	SentAt                *time.Time `json:"sent_at"`

	Notes     string    `json:"notes" gorm:"type:text"`
	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []PlanLine `json:"lines,omitempty" gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
}

func (AnnualPlan) TableName() string {
	return "annual_plans"
}

// Immutable 已报送平台的计划不可再修改
func (p *AnnualPlan) Immutable() bool {
	return p.Status == PlanStatusSentToRegistry
}

// Consumable 只有已报送平台的计划可以被流程消耗
func (p *AnnualPlan) Consumable() bool {
	return p.Status == PlanStatusSentToRegistry
}
