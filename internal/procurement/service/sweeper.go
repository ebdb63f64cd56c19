package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"go.uber.org/zap"
)

// SweepRepository 定时推进所需的流程查询与条件写入
type SweepRepository interface {
	FindDueForIntake(ctx context.Context, now time.Time) ([]entity.Process, error)
	FindDueForAnalysis(ctx context.Context, now time.Time) ([]entity.Process, error)
	CompareAndSetPhase(ctx context.Context, id string, from, to phase.Phase) (bool, error)
	Get(ctx context.Context, id string) (*entity.Process, error)
}

// SweepReport 一次扫描的结果
type SweepReport struct {
	ToIntake   int `json:"to_intake"`
	ToAnalysis int `json:"to_analysis"`
	Skipped    int `json:"skipped"` // 期间阶段已被其他操作改变
	Failed     int `json:"failed"`
}

// Sweeper 按收标窗口自动推进阶段
type Sweeper struct {
	repo   SweepRepository
	clock  Clock
	logger *zap.Logger
	mu     sync.Mutex
}

// NewSweeper 创建定时推进器
func NewSweeper(repo SweepRepository, clock Clock) *Sweeper {
	return &Sweeper{
		repo:   repo,
		clock:  clock,
		logger: zap.NewNop(),
	}
}

// SetLogger 设置日志
func (s *Sweeper) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Tick 执行一次两段扫描：进入收标、收标截止；单个流程失败只记录不中断
func (s *Sweeper) Tick(ctx context.Context) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report SweepReport
	now := s.clock.Now()

	due, err := s.repo.FindDueForIntake(ctx, now)
	if err != nil {
		return report, fmt.Errorf("find processes due for intake: %w", err)
	}
	for _, p := range due {
		s.apply(ctx, p, phase.ActionOpenIntake, &report.ToIntake, &report)
	}

	closing, err := s.repo.FindDueForAnalysis(ctx, now)
	if err != nil {
		return report, fmt.Errorf("find processes due for analysis: %w", err)
	}
	for _, p := range closing {
		s.apply(ctx, p, phase.ActionCloseIntake, &report.ToAnalysis, &report)
	}

	if report.ToIntake+report.ToAnalysis+report.Skipped+report.Failed > 0 {
		s.logger.Info("phase sweep finished",
			zap.Int("to_intake", report.ToIntake),
			zap.Int("to_analysis", report.ToAnalysis),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (s *Sweeper) apply(ctx context.Context, p entity.Process, action phase.Action, counter *int, report *SweepReport) {
	to, err := phase.Next(p.Phase, action, phase.Guard{})
	if err != nil {
		report.Skipped++
		return
	}
	ok, err := s.repo.CompareAndSetPhase(ctx, p.ID, p.Phase, to)
	if err != nil {
		report.Failed++
		s.logger.Error("sweep phase update failed",
			zap.String("process_id", p.ID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return
	}
	if !ok {
		report.Skipped++
		return
	}
	*counter++
}

// Reconcile 对单个流程立即执行同样的两项检查，返回最新流程及是否发生变化
func (s *Sweeper) Reconcile(ctx context.Context, id string) (*entity.Process, bool, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperr.NotFound("process", id)
		}
		return nil, false, fmt.Errorf("find process: %w", err)
	}

	now := s.clock.Now()
	changed := false
	for _, action := range []phase.Action{phase.ActionOpenIntake, phase.ActionCloseIntake} {
		if !dueFor(p, action, now) {
			continue
		}
		to, err := phase.Next(p.Phase, action, phase.Guard{})
		if err != nil {
			continue
		}
		ok, err := s.repo.CompareAndSetPhase(ctx, p.ID, p.Phase, to)
		if err != nil {
			return nil, changed, fmt.Errorf("update phase: %w", err)
		}
		if !ok {
			break
		}
		p.Phase = to
		changed = true
	}

	if changed {
		s.logger.Info("process reconciled", zap.String("process_id", p.ID), zap.String("phase", string(p.Phase)))
	}
	return p, changed, nil
}

// dueFor 与两段扫描的查询条件一致
func dueFor(p *entity.Process, action phase.Action, now time.Time) bool {
	if p.IntakeStart == nil || p.IntakeEnd == nil {
		return false
	}
	switch action {
	case phase.ActionOpenIntake:
		return (p.Phase == phase.Published || p.Phase == phase.ChallengePeriod) &&
			!p.IntakeStart.After(now) && p.IntakeEnd.After(now)
	case phase.ActionCloseIntake:
		return p.Phase == phase.ProposalIntake && !p.IntakeEnd.After(now)
	}
	return false
}

// Schedule 注册到cron，每次执行都捕获panic，保证下一次照常运行
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("phase sweep panicked", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("phase sweep failed", zap.Error(err))
		}
	})
}
