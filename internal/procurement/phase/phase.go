// Package phase 采购流程阶段状态机
// 纯函数转换表：(当前阶段, 动作, 守卫数据) -> 下一阶段，不做任何持久化
package phase

import (
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

// Phase 流程阶段
type Phase string

const (
	Planning         Phase = "planning"
	TermsOfReference Phase = "terms_of_reference"
	PriceResearch    Phase = "price_research"
	LegalReview      Phase = "legal_review"
	InternalApproval Phase = "internal_approval"
	Published        Phase = "published"
	ChallengePeriod  Phase = "challenge_period"
	ProposalIntake   Phase = "proposal_intake"
	ProposalAnalysis Phase = "proposal_analysis"
	Dispute          Phase = "dispute"
	Judgment         Phase = "judgment"
	Qualification    Phase = "qualification"
	Appeal           Phase = "appeal"
	Award            Phase = "award"
	Homologation     Phase = "homologation"
	Concluded        Phase = "concluded"

	// 旁路状态
	Suspended Phase = "suspended"
	Revoked   Phase = "revoked"
	Annulled  Phase = "annulled"
	NoBid     Phase = "no_bid"
	Failed    Phase = "failed"
)

// Action 触发动作
type Action string

const (
	ActionAdvance         Action = "advance"
	ActionRetreat         Action = "retreat"
	ActionPublish         Action = "publish"
	ActionSuspend         Action = "suspend"
	ActionResume          Action = "resume"
	ActionRevoke          Action = "revoke"
	ActionAnnul           Action = "annul"
	ActionMarkNoBid       Action = "mark_no_bid"
	ActionMarkFailed      Action = "mark_failed"
	ActionRegistryConfirm Action = "registry_confirm" // 平台公示成功回写
	ActionOpenIntake      Action = "open_intake"      // 定时：进入收标
	ActionCloseIntake     Action = "close_intake"     // 定时：收标截止
)

// Sequence 主流程顺序
var Sequence = []Phase{
	Planning, TermsOfReference, PriceResearch, LegalReview, InternalApproval,
	Published, ChallengePeriod, ProposalIntake, ProposalAnalysis, Dispute,
	Judgment, Qualification, Appeal, Award, Homologation, Concluded,
}

// ResumeTargets 暂停后允许恢复到的公开阶段
var ResumeTargets = []Phase{Published, ChallengePeriod, ProposalIntake, ProposalAnalysis, Dispute}

// DefaultResumeTarget 恢复时未指定目标的默认阶段
const DefaultResumeTarget = ProposalIntake

// Guard 守卫数据，由服务层计算后传入
type Guard struct {
	HasSchedule bool  // 五个公告日期是否齐全
	ActiveItems int   // 有效行项数
	ResumeTo    Phase // resume的目标阶段，空则用默认
}

var position = func() map[Phase]int {
	m := make(map[Phase]int, len(Sequence))
	for i, p := range Sequence {
		m[p] = i
	}
	return m
}()

// Valid 是否已知阶段
func Valid(p Phase) bool {
	if _, ok := position[p]; ok {
		return true
	}
	switch p {
	case Suspended, Revoked, Annulled, NoBid, Failed:
		return true
	}
	return false
}

// IsTerminal 终态：结束/撤销/废止/流标/失败
func IsTerminal(p Phase) bool {
	switch p {
	case Concluded, Revoked, Annulled, NoBid, Failed:
		return true
	}
	return false
}

// IsInternal 内部阶段（发布前）
func IsInternal(p Phase) bool {
	i, ok := position[p]
	return ok && i <= position[InternalApproval]
}

// IsPublicResumable 是否属于可恢复的公开子集
func IsPublicResumable(p Phase) bool {
	for _, t := range ResumeTargets {
		if t == p {
			return true
		}
	}
	return false
}

// IsEditLocked 竞价开始后流程主数据不可再修改
func IsEditLocked(p Phase) bool {
	if IsTerminal(p) {
		return true
	}
	i, ok := position[p]
	return ok && i >= position[Dispute]
}

// Index 主流程中的位置，旁路状态返回-1
func Index(p Phase) int {
	if i, ok := position[p]; ok {
		return i
	}
	return -1
}

// Next 计算下一阶段
func Next(from Phase, action Action, g Guard) (Phase, error) {
	if !Valid(from) {
		return "", invalid(from, action)
	}
	if IsTerminal(from) {
		return "", apperr.Validation(apperr.CodeInvalidTransition,
			"process is in terminal phase %s, %s not allowed", from, action)
	}

	switch action {
	case ActionAdvance:
		return advance(from, g)

	case ActionRetreat:
		i, ok := position[from]
		if !ok || i == 0 || !IsInternal(from) {
			return "", apperr.Validation(apperr.CodeInvalidTransition,
				"retreat is only allowed inside the internal phases, current phase %s", from)
		}
		return Sequence[i-1], nil

	case ActionPublish:
		if from != InternalApproval {
			return "", apperr.Validation(apperr.CodeInvalidTransition,
				"publish requires phase %s, current phase %s", InternalApproval, from)
		}
		return leaveInternalApproval(g)

	case ActionRegistryConfirm:
		// 平台已接收：内部审批阶段与发布同样校验日程和行项，已公开的阶段保持不变
		if from == InternalApproval {
			return leaveInternalApproval(g)
		}
		if _, ok := position[from]; ok && !IsInternal(from) {
			return from, nil
		}
		return "", invalid(from, action)

	case ActionSuspend:
		if from == Suspended {
			return "", apperr.Validation(apperr.CodeInvalidTransition, "process is already suspended")
		}
		return Suspended, nil

	case ActionResume:
		if from != Suspended {
			return "", apperr.Validation(apperr.CodeInvalidTransition,
				"only suspended processes can be resumed, current phase %s", from)
		}
		if g.ResumeTo == "" {
			return DefaultResumeTarget, nil
		}
		if !IsPublicResumable(g.ResumeTo) {
			return "", apperr.Validation(apperr.CodeInvalidTransition,
				"cannot resume into %s, allowed: published..dispute", g.ResumeTo)
		}
		return g.ResumeTo, nil

	case ActionRevoke:
		return Revoked, nil
	case ActionAnnul:
		return Annulled, nil
	case ActionMarkNoBid:
		return NoBid, nil
	case ActionMarkFailed:
		return Failed, nil

	case ActionOpenIntake:
		if from == Published || from == ChallengePeriod {
			return ProposalIntake, nil
		}
		return "", invalid(from, action)

	case ActionCloseIntake:
		if from == ProposalIntake {
			return ProposalAnalysis, nil
		}
		return "", invalid(from, action)
	}

	return "", invalid(from, action)
}

func advance(from Phase, g Guard) (Phase, error) {
	if from == Suspended {
		return "", apperr.Validation(apperr.CodeInvalidTransition, "suspended processes must be resumed, not advanced")
	}
	if from == InternalApproval {
		return leaveInternalApproval(g)
	}
	i := position[from]
	return Sequence[i+1], nil
}

// leaveInternalApproval 离开内部审批：先校验日程，再校验有效行项
func leaveInternalApproval(g Guard) (Phase, error) {
	if !g.HasSchedule {
		return "", apperr.Validation(apperr.CodeScheduleRequired,
			"publication, challenge deadline, intake start, intake end and session dates are required")
	}
	if g.ActiveItems < 1 {
		return "", apperr.Validation(apperr.CodeInvalidTransition,
			"at least one active line item is required to leave %s", InternalApproval)
	}
	return Published, nil
}

func invalid(from Phase, action Action) error {
	return apperr.Validation(apperr.CodeInvalidTransition, "action %s not allowed from phase %s", action, from)
}
