package service

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
)

// MinObjectLength 采购对象描述最少字符数
const MinObjectLength = 10

// Settings 本机构在平台上的身份
type Settings struct {
	CNPJ     string
	OrgName  string
	UnitCode string
	UnitName string
	AppURL   string
}

// CheckItem 检查清单中的一项
type CheckItem struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationReport 报送前校验结果
type ValidationReport struct {
	Valid     bool        `json:"valid"`
	Errors    []string    `json:"errors"`
	Warnings  []string    `json:"warnings"`
	Checklist []CheckItem `json:"checklist"`
}

func (r *ValidationReport) check(name string, passed bool, detail string) {
	r.Checklist = append(r.Checklist, CheckItem{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.Errors = append(r.Errors, detail)
	}
}

func (r *ValidationReport) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Summary 错误合并为一行
func (r *ValidationReport) Summary() string {
	return strings.Join(r.Errors, "; ")
}

// ValidateProcess 在任何网络调用前检查流程是否可以报送
func ValidateProcess(p *procentity.Process, s Settings, now time.Time) *ValidationReport {
	r := &ValidationReport{Errors: []string{}, Warnings: []string{}}

	r.check("org_cnpj", pncp.ValidCNPJ(s.CNPJ), "organization CNPJ is missing or invalid")
	r.check("unit_code", strings.TrimSpace(s.UnitCode) != "", "purchasing unit code is not configured")
	r.check("process_number", strings.TrimSpace(p.ProcessNumber) != "", "process number is required")
	r.check("object", utf8.RuneCountInString(strings.TrimSpace(p.Object)) >= MinObjectLength,
		fmt.Sprintf("object description must have at least %d characters", MinObjectLength))

	_, supported := pncp.ModalityCode(p.Modality)
	r.check("modality", supported, fmt.Sprintf("modality %s is not supported by the registry", p.Modality))

	r.check("schedule", p.Schedule().Complete(),
		"publication, challenge deadline, intake start, intake end and session dates are required")
	if p.SessionOpening != nil && !p.SessionOpening.After(now) {
		r.warn("session opening date is in the past")
	}

	r.check("phase", phaseReady(p.Phase),
		fmt.Sprintf("internal phases must be completed, current phase %s", p.Phase))

	r.check("edict_document", strings.TrimSpace(p.EdictDocumentKey) != "", "the notice document has not been uploaded")

	active := 0
	for i := range p.Items {
		it := &p.Items[i]
		if it.Status == procentity.ItemStatusCancelled {
			continue
		}
		if it.Status == procentity.ItemStatusActive {
			active++
		}
		if problem := itemProblem(it); problem != "" {
			r.check(fmt.Sprintf("item_%d", it.Number), false, fmt.Sprintf("item %d: %s", it.Number, problem))
		}
	}
	r.check("items", active > 0, "at least one active line item is required")

	if p.BudgetSecrecy == procentity.BudgetSecret {
		r.warn("estimated values are confidential and will be flagged on every item")
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// 内部审批或已公开且未终结
func phaseReady(p phase.Phase) bool {
	if p == phase.InternalApproval {
		return true
	}
	return phase.Index(p) > phase.Index(phase.InternalApproval) && !phase.IsTerminal(p)
}

func itemProblem(it *procentity.LineItem) string {
	switch {
	case strings.TrimSpace(it.Description) == "":
		return "description is required"
	case !it.Quantity.IsPositive():
		return "quantity must be positive"
	case !it.UnitEstimated.IsPositive():
		return "estimated unit value must be positive"
	case strings.TrimSpace(it.Unit) == "":
		return "unit of measure is required"
	}
	return ""
}
