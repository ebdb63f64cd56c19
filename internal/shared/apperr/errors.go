// Package apperr 业务错误分类
// 校验/不存在/冲突/外部系统四类，每个错误带稳定的Code供调用方判断
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
)

// 稳定错误码
const (
	CodeInvalidTransition     = "invalid_transition"
	CodeScheduleRequired      = "schedule_required"
	CodeJustificationTooShort = "justification_too_short"
	CodePlanExhausted         = "plan_exhausted"
	CodeInsufficientBalance   = "insufficient_balance"
	CodePlanNotPublished      = "plan_not_published"
	CodeLinkModeMismatch      = "link_mode_mismatch"
	CodeDuplicateNumber       = "duplicate_number"
	CodePlanExists            = "plan_exists"
	CodePlanImmutable         = "plan_immutable"
	CodeProcessLocked         = "process_locked"
	CodeItemNotActive         = "item_not_active"
	CodeLotNotEmpty           = "lot_not_empty"
	CodeChecklistFailed       = "checklist_failed"
	CodeNotSubmitted          = "not_submitted"
	CodeInvalidInput          = "invalid_input"
	CodeNotFound              = "not_found"
	CodeRegistryAuth          = "registry_auth"
	CodeRegistryValidation    = "registry_validation"
	CodeRegistryTransient     = "registry_transient"
)

// Error 带分类的业务错误
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 业务规则校验失败
func Validation(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound 实体不存在
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict 唯一性冲突
func Conflict(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// External 外部系统错误
func External(code, message string, err error) *Error {
	return &Error{Kind: KindExternal, Code: code, Message: message, Err: err}
}

// KindOf 返回错误类别，非业务错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf 返回错误码
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is 判断错误链中是否存在指定错误码
func Is(err error, code string) bool {
	return CodeOf(err) == code
}
