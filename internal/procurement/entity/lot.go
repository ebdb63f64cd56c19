package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 标段状态
const (
	LotStatusOpen      = "open"
	LotStatusAwarded   = "awarded"
	LotStatusCancelled = "cancelled"
	LotStatusNoBid     = "no_bid"
	LotStatusFailed    = "failed"
)

// Lot 标段
type Lot struct {
	ID                  string  `json:"id" gorm:"primaryKey;size:32"`
	ProcessID           string  `json:"process_id" gorm:"size:32;not null;uniqueIndex:idx_lot_process_number"`
	Number              int     `json:"number" gorm:"not null;uniqueIndex:idx_lot_process_number"`
	Description         string  `json:"description" gorm:"type:text;not null"`
	PlanLineID          *string `json:"plan_line_id" gorm:"size:32;index"`
	NoPlan              bool    `json:"no_plan"`
	NoPlanJustification string  `json:"no_plan_justification" gorm:"type:text"`

	// ME/EPP
	SmallBusinessExclusive bool            `json:"small_business_exclusive"`
	ReservedQuota          bool            `json:"reserved_quota"`
	ReservedQuotaPercent   decimal.Decimal `json:"reserved_quota_percent" gorm:"type:decimal(5,2);not null;default:0"`

	EstimatedTotal decimal.Decimal `json:"estimated_total" gorm:"type:decimal(20,4);not null;default:0"`
	AwardedTotal   decimal.Decimal `json:"awarded_total" gorm:"type:decimal(20,4);not null;default:0"`
	ItemCount      int             `json:"item_count"`
	Status         string          `json:"status" gorm:"size:20;not null;default:open"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items []LineItem `json:"items,omitempty" gorm:"foreignKey:LotID"`
}

func (Lot) TableName() string {
	return "procurement_lots"
}

// RecalculateTotals 预估合计按非取消行项，授予合计按已授予/已批准行项
func (l *Lot) RecalculateTotals(items []LineItem) {
	estimated := decimal.Zero
	awarded := decimal.Zero
	for _, it := range items {
		if it.Status != ItemStatusCancelled {
			estimated = estimated.Add(it.TotalEstimated)
		}
		if it.TotalAwarded.Valid {
			awarded = awarded.Add(it.TotalAwarded.Decimal)
		}
	}
	l.EstimatedTotal = estimated
	l.AwardedTotal = awarded
	l.ItemCount = len(items)
}
