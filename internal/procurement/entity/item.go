package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 行项状态
const (
	ItemStatusActive    = "active"
	ItemStatusCancelled = "cancelled"
	ItemStatusNoBid     = "no_bid"
	ItemStatusFailed    = "failed"
	ItemStatusAwarded   = "awarded"
	ItemStatusRatified  = "ratified"
)

// 参与方式
const (
	ParticipationOpen          = "open"
	ParticipationExclusiveMPE  = "exclusive_small_business"
	ParticipationReservedQuota = "reserved_quota"
)

// 物资/服务
const (
	ItemTypeMaterial = "material"
	ItemTypeService  = "service"
)

// LineItem 采购行项
type LineItem struct {
	ID          string  `json:"id" gorm:"primaryKey;size:32"`
	ProcessID   string  `json:"process_id" gorm:"size:32;not null;uniqueIndex:idx_item_process_number"`
	LotID       *string `json:"lot_id" gorm:"size:32;index"`
	Number      int     `json:"number" gorm:"not null;uniqueIndex:idx_item_process_number"`
	Description string  `json:"description" gorm:"type:text;not null"`
	CatalogCode string  `json:"catalog_code" gorm:"size:50"`
	ItemType    string  `json:"item_type" gorm:"size:20;not null;default:material"`
	Unit        string  `json:"unit" gorm:"size:30;not null"`

	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(20,4);not null"`
	UnitEstimated  decimal.Decimal `json:"unit_estimated" gorm:"type:decimal(20,4);not null"`
	TotalEstimated decimal.Decimal `json:"total_estimated" gorm:"type:decimal(20,4);not null"`

	UnitAwarded  decimal.NullDecimal `json:"unit_awarded" gorm:"type:decimal(20,4)"`
	TotalAwarded decimal.NullDecimal `json:"total_awarded" gorm:"type:decimal(20,4)"`

	Participation       string  `json:"participation" gorm:"size:30;not null;default:open"`
	PlanLineID          *string `json:"plan_line_id" gorm:"size:32;index"`
	NoPlan              bool    `json:"no_plan"`
	NoPlanJustification string  `json:"no_plan_justification" gorm:"type:text"`
	Status              string  `json:"status" gorm:"size:20;not null;default:active"`

	WinnerSupplierID   string `json:"winner_supplier_id" gorm:"size:32"`
	WinnerSupplierName string `json:"winner_supplier_name" gorm:"size:200"`
	Notes              string `json:"notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (LineItem) TableName() string {
	return "procurement_items"
}

// Recalculate 总价 = 数量 × 单价；授予单价存在时同步授予总价
func (i *LineItem) Recalculate() {
	i.TotalEstimated = i.Quantity.Mul(i.UnitEstimated)
	if i.UnitAwarded.Valid {
		i.TotalAwarded = decimal.NewNullDecimal(i.Quantity.Mul(i.UnitAwarded.Decimal))
	}
}

// BeforeSave 每次写入前重算金额
func (i *LineItem) BeforeSave(tx *gorm.DB) error {
	i.Recalculate()
	return nil
}

// InheritPlanLink 从流程或标段继承计划关联
func (i *LineItem) InheritPlanLink(planLineID *string, noPlan bool, justification string) {
	if planLineID != nil {
		id := *planLineID
		i.PlanLineID = &id
	} else {
		i.PlanLineID = nil
	}
	i.NoPlan = noPlan
	i.NoPlanJustification = justification
}
