package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type memSweepRepo struct {
	mu        sync.Mutex
	processes map[string]*entity.Process
	findErr   error
	casErr    map[string]error
	// 模拟并发：CAS前把阶段改掉
	raced map[string]phase.Phase
}

func newMemSweepRepo(ps ...*entity.Process) *memSweepRepo {
	r := &memSweepRepo{processes: map[string]*entity.Process{}, casErr: map[string]error{}, raced: map[string]phase.Phase{}}
	for _, p := range ps {
		r.processes[p.ID] = p
	}
	return r
}

func (r *memSweepRepo) find(now time.Time, action phase.Action) ([]entity.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []entity.Process
	for _, p := range r.processes {
		if dueFor(p, action, now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memSweepRepo) FindDueForIntake(ctx context.Context, now time.Time) ([]entity.Process, error) {
	return r.find(now, phase.ActionOpenIntake)
}

func (r *memSweepRepo) FindDueForAnalysis(ctx context.Context, now time.Time) ([]entity.Process, error) {
	return r.find(now, phase.ActionCloseIntake)
}

func (r *memSweepRepo) CompareAndSetPhase(ctx context.Context, id string, from, to phase.Phase) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.casErr[id]; err != nil {
		return false, err
	}
	p, ok := r.processes[id]
	if !ok {
		return false, nil
	}
	if raced, ok := r.raced[id]; ok {
		p.Phase = raced
	}
	if p.Phase != from {
		return false, nil
	}
	p.Phase = to
	return true, nil
}

func (r *memSweepRepo) Get(ctx context.Context, id string) (*entity.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func windowProcess(id string, ph phase.Phase, start, end time.Time) *entity.Process {
	return &entity.Process{ID: id, ProcessNumber: id, Phase: ph, IntakeStart: &start, IntakeEnd: &end}
}

func TestSweeperOpensIntakeWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemSweepRepo(windowProcess("p1", phase.Published, now.Add(-time.Hour), now.Add(time.Hour)))
	sw := NewSweeper(repo, fakeClock{now})

	report, err := sw.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.ToIntake != 1 {
		t.Fatalf("ToIntake = %d, want 1", report.ToIntake)
	}
	if got := repo.processes["p1"].Phase; got != phase.ProposalIntake {
		t.Fatalf("phase = %s, want %s", got, phase.ProposalIntake)
	}

	// 第二次没有匹配的流程，不报错也不改变任何东西
	report, err = sw.Tick(context.Background())
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if report != (SweepReport{}) {
		t.Fatalf("second report = %+v, want zero", report)
	}
	if got := repo.processes["p1"].Phase; got != phase.ProposalIntake {
		t.Fatalf("phase after second tick = %s", got)
	}
}

func TestSweeperClosesIntake(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemSweepRepo(
		windowProcess("closing", phase.ProposalIntake, now.Add(-48*time.Hour), now.Add(-time.Minute)),
		windowProcess("open", phase.ProposalIntake, now.Add(-time.Hour), now.Add(time.Hour)),
		windowProcess("future", phase.ChallengePeriod, now.Add(time.Hour), now.Add(2*time.Hour)),
	)
	sw := NewSweeper(repo, fakeClock{now})

	report, err := sw.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.ToAnalysis != 1 || report.ToIntake != 0 {
		t.Fatalf("report = %+v", report)
	}
	if repo.processes["closing"].Phase != phase.ProposalAnalysis {
		t.Fatalf("closing phase = %s", repo.processes["closing"].Phase)
	}
	if repo.processes["open"].Phase != phase.ProposalIntake {
		t.Fatalf("open phase = %s", repo.processes["open"].Phase)
	}
	if repo.processes["future"].Phase != phase.ChallengePeriod {
		t.Fatalf("future phase = %s", repo.processes["future"].Phase)
	}
}

func TestSweeperSkipsConcurrentChange(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemSweepRepo(windowProcess("p1", phase.Published, now.Add(-time.Hour), now.Add(time.Hour)))
	repo.raced["p1"] = phase.Suspended
	sw := NewSweeper(repo, fakeClock{now})

	report, err := sw.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Skipped != 1 || report.ToIntake != 0 {
		t.Fatalf("report = %+v", report)
	}
	if repo.processes["p1"].Phase != phase.Suspended {
		t.Fatalf("phase = %s, want suspended", repo.processes["p1"].Phase)
	}
}

func TestSweeperContinuesAfterWriteError(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemSweepRepo(
		windowProcess("bad", phase.Published, now.Add(-time.Hour), now.Add(time.Hour)),
		windowProcess("good", phase.Published, now.Add(-time.Hour), now.Add(time.Hour)),
	)
	repo.casErr["bad"] = errors.New("connection reset")
	sw := NewSweeper(repo, fakeClock{now})

	report, err := sw.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Failed != 1 || report.ToIntake != 1 {
		t.Fatalf("report = %+v", report)
	}
	if repo.processes["good"].Phase != phase.ProposalIntake {
		t.Fatalf("good phase = %s", repo.processes["good"].Phase)
	}
}

func TestSweeperQueryError(t *testing.T) {
	repo := newMemSweepRepo()
	repo.findErr = errors.New("db down")
	sw := NewSweeper(repo, fakeClock{time.Now()})

	if _, err := sw.Tick(context.Background()); err == nil {
		t.Fatal("expected error when the query fails")
	}
}

func TestReconcile(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newMemSweepRepo(
		windowProcess("due", phase.ChallengePeriod, now.Add(-time.Minute), now.Add(time.Hour)),
		windowProcess("early", phase.Published, now.Add(time.Hour), now.Add(2*time.Hour)),
		windowProcess("late", phase.Published, now.Add(-2*time.Hour), now.Add(-time.Hour)),
	)
	sw := NewSweeper(repo, fakeClock{now})

	p, changed, err := sw.Reconcile(context.Background(), "due")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !changed || p.Phase != phase.ProposalIntake {
		t.Fatalf("changed=%v phase=%s", changed, p.Phase)
	}

	p, changed, err = sw.Reconcile(context.Background(), "early")
	if err != nil {
		t.Fatalf("Reconcile early: %v", err)
	}
	if changed || p.Phase != phase.Published {
		t.Fatalf("early: changed=%v phase=%s", changed, p.Phase)
	}

	// 窗口已过但还在已发布：不会直接跳到分析
	p, changed, err = sw.Reconcile(context.Background(), "late")
	if err != nil {
		t.Fatalf("Reconcile late: %v", err)
	}
	if changed || p.Phase != phase.Published {
		t.Fatalf("late: changed=%v phase=%s", changed, p.Phase)
	}

	_, _, err = sw.Reconcile(context.Background(), "missing")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing: err = %v, want not_found", err)
	}
}

func TestScheduleRegistersEntry(t *testing.T) {
	sw := NewSweeper(newMemSweepRepo(), fakeClock{time.Now()})
	c := cron.New()

	if _, err := sw.Schedule(c, "@every 1m"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("entries = %d, want 1", len(c.Entries()))
	}
	if _, err := sw.Schedule(c, "not a spec"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
