package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 计划行类别（与PNCP的PCA类别对应）
const (
	CategoryMaterial           = "MATERIAL"
	CategoryService            = "SERVICO"
	CategoryWorks              = "OBRA"
	CategoryEngineeringService = "SERVICO_ENGENHARIA"
	CategoryITSolution         = "SOLUCAO_TIC"
	CategoryPropertyRental     = "LOCACAO_IMOVEL"
	CategoryDisposal           = "ALIENACAO"
)

// 计划行状态
const (
	LineStatusPlanned       = "planned"
	LineStatusInPreparation = "in_preparation"
	LineStatusTenderStarted = "tender_started"
	LineStatusContracted    = "contracted"
	LineStatusCancelled     = "cancelled"
	LineStatusDeferred      = "deferred"
)

// ValidCategory 是否已知类别
func ValidCategory(c string) bool {
	switch c {
	case CategoryMaterial, CategoryService, CategoryWorks, CategoryEngineeringService,
		CategoryITSolution, CategoryPropertyRental, CategoryDisposal:
		return true
	}
	return false
}

// PlanLine 计划行
type PlanLine struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	PlanID      string `json:"plan_id" gorm:"size:32;not null;uniqueIndex:idx_plan_line_number"`
	Number      int    `json:"number" gorm:"not null;uniqueIndex:idx_plan_line_number"`
	Category    string `json:"category" gorm:"size:30;not null"`
	Description string `json:"description" gorm:"type:text;not null"`
	Rationale   string `json:"rationale" gorm:"type:text"`
	CatalogCode string `json:"catalog_code" gorm:"size:50;index"`
	Unit        string `json:"unit" gorm:"size:30"`

	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(20,4);not null;default:0"`
	UnitEstimated  decimal.Decimal `json:"unit_estimated" gorm:"type:decimal(20,4);not null;default:0"`
	EstimatedValue decimal.Decimal `json:"estimated_value" gorm:"type:decimal(20,4);not null"`
	ConsumedValue  decimal.Decimal `json:"consumed_value" gorm:"type:decimal(20,4);not null;default:0"`
	Exhausted      bool            `json:"exhausted"`

	RequestingUnit string     `json:"requesting_unit" gorm:"size:200"`
	DesiredDate    *time.Time `json:"desired_date" gorm:"type:date"`
	Quarter        int        `json:"quarter"`
	Priority       int        `json:"priority" gorm:"not null;default:3"` // 1最高
	Renewable      bool       `json:"renewable"`                           // 续约
	Status         string     `json:"status" gorm:"size:20;not null;default:planned;index"`

	ProcessID        *string `json:"process_id" gorm:"size:32;index"` // 首个消耗本行的流程
	RegistrySequence int     `json:"registry_sequence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PlanLine) TableName() string {
	return "annual_plan_lines"
}

// Balance 剩余额度
func (l *PlanLine) Balance() decimal.Decimal {
	return l.EstimatedValue.Sub(l.ConsumedValue)
}

// Normalize 有单价和数量时以乘积为预估金额；按期望日期推出季度
func (l *PlanLine) Normalize() {
	if l.Quantity.IsPositive() && l.UnitEstimated.IsPositive() {
		l.EstimatedValue = l.Quantity.Mul(l.UnitEstimated)
	}
	if l.DesiredDate != nil {
		l.Quarter = (int(l.DesiredDate.Month())-1)/3 + 1
	}
}

// PlanConsumption 计划行消耗记录，(plan_line_id, idempotency_key) 唯一
type PlanConsumption struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	PlanLineID     string          `json:"plan_line_id" gorm:"size:32;not null;uniqueIndex:idx_consumption_key"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"size:80;not null;uniqueIndex:idx_consumption_key"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(20,4);not null"`
	TargetType     string          `json:"target_type" gorm:"size:20;not null"` // process/lot/item/import
	TargetID       string          `json:"target_id" gorm:"size:32"`
	CreatedBy      string          `json:"created_by" gorm:"size:32"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (PlanConsumption) TableName() string {
	return "annual_plan_consumptions"
}
