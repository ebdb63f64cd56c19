package entity

import (
	"time"

	"gorm.io/datatypes"
)

// 同步记录类型
const (
	KindProcess    = "process"
	KindItem       = "item"
	KindResult     = "result"
	KindContract   = "contract"
	KindAnnualPlan = "annual_plan"
	KindPlanLine   = "plan_line"
	KindDocument   = "document"
)

// 同步状态
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusUpdated = "updated"
	StatusDeleted = "deleted"
	StatusError   = "error"
)

// SyncRecord 每个对外报送目标一条记录，保存最近一次尝试的结果
type SyncRecord struct {
	ID         string  `json:"id" gorm:"primaryKey;size:32"`
	Kind       string  `json:"kind" gorm:"size:20;not null;uniqueIndex:idx_sync_kind_target"`
	TargetType string  `json:"target_type" gorm:"size:30;not null"`
	TargetID   string  `json:"target_id" gorm:"size:255;not null;uniqueIndex:idx_sync_kind_target;index"`
	ProcessID  *string `json:"process_id" gorm:"size:32;index"`
	Status     string  `json:"status" gorm:"size:20;not null;default:pending;index"`

	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error" gorm:"type:text"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	SentAt        *time.Time `json:"sent_at"`

	ControlNumber    string `json:"control_number" gorm:"size:60"`
	RegistryYear     int    `json:"registry_year"`
	RegistrySequence int    `json:"registry_sequence"`

	Payload  datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Response datatypes.JSON `json:"response" gorm:"type:jsonb"`

	OperatorID string    `json:"operator_id" gorm:"size:32"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (SyncRecord) TableName() string {
	return "registry_sync_records"
}

// Delivered 是否已成功送达过平台
func (r *SyncRecord) Delivered() bool {
	return r.Status == StatusSent || r.Status == StatusUpdated
}

// Begin 开始一次尝试
func (r *SyncRecord) Begin(operatorID string, payload []byte, now time.Time) {
	r.Status = StatusSending
	r.LastAttemptAt = &now
	if operatorID != "" {
		r.OperatorID = operatorID
	}
	if len(payload) > 0 {
		r.Payload = datatypes.JSON(payload)
	}
}

// Succeed 成功：首次为sent，已送达过的为updated
func (r *SyncRecord) Succeed(status string, response []byte, now time.Time) {
	r.Status = status
	r.LastError = ""
	r.SentAt = &now
	if len(response) > 0 {
		r.Response = datatypes.JSON(response)
	}
}

// Withdrawn 平台已删除，可重新报送；保留原控制号备查
func (r *SyncRecord) Withdrawn(operatorID string, now time.Time) {
	r.Status = StatusDeleted
	r.LastError = ""
	r.SentAt = nil
	r.LastAttemptAt = &now
	if operatorID != "" {
		r.OperatorID = operatorID
	}
}

// Fail 失败回到error，尝试次数加一
func (r *SyncRecord) Fail(message string) {
	r.Status = StatusError
	r.AttemptCount++
	r.LastError = message
}
