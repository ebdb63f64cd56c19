package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 需求单状态
const (
	DemandStatusDraft        = "draft"
	DemandStatusSubmitted    = "submitted"
	DemandStatusUnderReview  = "under_review"
	DemandStatusApproved     = "approved"
	DemandStatusRejected     = "rejected"
	DemandStatusConsolidated = "consolidated"
)

// Demand 部门采购需求，审批后汇总进年度计划
type Demand struct {
	ID             string `json:"id" gorm:"primaryKey;size:32"`
	OrgID          string `json:"org_id" gorm:"size:32;not null;index"`
	Year           int    `json:"year" gorm:"not null;index"`
	Code           string `json:"code" gorm:"size:30;not null;uniqueIndex"`
	Title          string `json:"title" gorm:"size:200;not null"`
	RequestingUnit string `json:"requesting_unit" gorm:"size:200"`
	Requester      string `json:"requester" gorm:"size:100"`
	Justification  string `json:"justification" gorm:"type:text"`
	Status         string `json:"status" gorm:"size:20;not null;default:draft;index"`
	RejectReason   string `json:"reject_reason" gorm:"type:text"`

	TotalEstimated decimal.Decimal `json:"total_estimated" gorm:"type:decimal(20,4);not null;default:0"`
	PlanID         *string         `json:"plan_id" gorm:"size:32;index"`

	SubmittedAt    *time.Time `json:"submitted_at"`
	ReviewedBy     string     `json:"reviewed_by" gorm:"size:32"`
	ApprovedAt     *time.Time `json:"approved_at"`
	ConsolidatedAt *time.Time `json:"consolidated_at"`

	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []DemandLine `json:"lines,omitempty" gorm:"foreignKey:DemandID;constraint:OnDelete:CASCADE"`
}

func (Demand) TableName() string {
	return "plan_demands"
}

// DemandLine 需求行，汇总后指向生成的计划行
type DemandLine struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	DemandID    string `json:"demand_id" gorm:"size:32;not null;index"`
	Number      int    `json:"number" gorm:"not null"`
	Category    string `json:"category" gorm:"size:30;not null"`
	Description string `json:"description" gorm:"type:text;not null"`
	Rationale   string `json:"rationale" gorm:"type:text"`
	CatalogCode string `json:"catalog_code" gorm:"size:50"`
	Unit        string `json:"unit" gorm:"size:30"`

	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(20,4);not null;default:0"`
	UnitEstimated  decimal.Decimal `json:"unit_estimated" gorm:"type:decimal(20,4);not null;default:0"`
	EstimatedValue decimal.Decimal `json:"estimated_value" gorm:"type:decimal(20,4);not null;default:0"`

	DesiredDate *time.Time `json:"desired_date" gorm:"type:date"`
	Priority    int        `json:"priority" gorm:"not null;default:3"`
	Renewable   bool       `json:"renewable"`

	PlanLineID *string   `json:"plan_line_id" gorm:"size:32"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DemandLine) TableName() string {
	return "plan_demand_lines"
}

// Recalculate 数量×单价
func (l *DemandLine) Recalculate() {
	if l.Quantity.IsPositive() && l.UnitEstimated.IsPositive() {
		l.EstimatedValue = l.Quantity.Mul(l.UnitEstimated)
	}
}
