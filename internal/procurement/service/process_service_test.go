package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/procurement/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"github.com/valleteclab/portaldcp/internal/shared/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newProcessServices(t *testing.T) (*Services, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svcs := NewServices(repository.NewRepositories(db), db, zap.NewNop())
	svcs.Process.SetClock(fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)})
	return svcs, db
}

func TestCreateProcessAndAdvanceToApproval(t *testing.T) {
	svcs, _ := newProcessServices(t)
	ctx := context.Background()

	p, err := svcs.Process.CreateProcess(ctx, "user-1", &CreateProcessRequest{
		ProcessNumber: "001/2025",
		Object:        "Aquisição de material de expediente",
	})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if p.Phase != phase.Planning {
		t.Fatalf("expected planning, got %s", p.Phase)
	}

	for i := 0; i < 4; i++ {
		if p, err = svcs.Process.Advance(ctx, p.ID, "user-1", ""); err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
	}
	if p.Phase != phase.InternalApproval {
		t.Fatalf("expected internal_approval after 4 advances, got %s", p.Phase)
	}

	// 没有日程不能离开内部审批，重复调用结果相同
	for i := 0; i < 2; i++ {
		if _, err := svcs.Process.Advance(ctx, p.ID, "user-1", ""); !apperr.Is(err, apperr.CodeScheduleRequired) {
			t.Fatalf("advance %d: expected schedule_required, got %v", i+5, err)
		}
	}
	got, err := svcs.Process.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Phase != phase.InternalApproval {
		t.Fatalf("phase must not move on a rejected advance, got %s", got.Phase)
	}

	history, total, err := svcs.Process.History(ctx, p.ID, 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 5 || len(history) != 5 {
		t.Fatalf("expected create plus 4 transitions in history, got %d", total)
	}
}

func TestCreateProcessRejectsDuplicateNumber(t *testing.T) {
	svcs, _ := newProcessServices(t)
	ctx := context.Background()

	req := &CreateProcessRequest{ProcessNumber: "002/2025", Object: "Contratação de serviços de limpeza"}
	if _, err := svcs.Process.CreateProcess(ctx, "user-1", req); err != nil {
		t.Fatalf("create process: %v", err)
	}
	if _, err := svcs.Process.CreateProcess(ctx, "user-1", req); !apperr.Is(err, apperr.CodeDuplicateNumber) {
		t.Fatalf("expected duplicate_number, got %v", err)
	}
}

func TestCreateProcessNumbersBySequence(t *testing.T) {
	svcs, _ := newProcessServices(t)
	ctx := context.Background()

	p, err := svcs.Process.CreateProcess(ctx, "user-1", &CreateProcessRequest{Object: "Aquisição de mobiliário"})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if p.ProcessNumber != "001/2025" || p.Sequence != 1 {
		t.Fatalf("expected generated number 001/2025, got %s seq %d", p.ProcessNumber, p.Sequence)
	}
	if p.PlanLinkMode != entity.LinkByItem || p.Modality != entity.ModalityPregaoEletronico {
		t.Fatalf("unexpected defaults %s %s", p.PlanLinkMode, p.Modality)
	}
}

func TestItemsLockedFromDispute(t *testing.T) {
	svcs, db := newProcessServices(t)
	ctx := context.Background()

	p := testutil.SeedProcess(t, db, "003/2025", phase.Dispute)
	_, err := svcs.Item.Create(ctx, p.ID, "user-1", &CreateItemRequest{
		Description:   "Resma de papel A4",
		Unit:          "UN",
		Quantity:      decimal.NewFromInt(10),
		UnitEstimated: decimal.NewFromInt(25),
	})
	if !apperr.Is(err, apperr.CodeProcessLocked) {
		t.Fatalf("expected process_locked, got %v", err)
	}
}

func TestRegistryConfirmationRequiresSchedule(t *testing.T) {
	svcs, db := newProcessServices(t)
	ctx := context.Background()

	p := testutil.SeedProcess(t, db, "004/2025", phase.InternalApproval)
	testutil.SeedItem(t, db, p.ID, 1, decimal.NewFromInt(10), decimal.NewFromInt(100))

	ids := RegistryIdentifiers{ControlNumber: "11222333000181-1-000004/2025", Year: 2025, Sequence: 4}
	if _, err := svcs.Process.ConfirmRegistryPublication(ctx, p.ID, "user-1", ids); !apperr.Is(err, apperr.CodeScheduleRequired) {
		t.Fatalf("expected schedule_required, got %v", err)
	}
	got, err := svcs.Process.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Phase != phase.InternalApproval || got.RegistryControlNumber != "" {
		t.Fatalf("rejected confirmation must leave the process untouched, got phase=%s control=%q", got.Phase, got.RegistryControlNumber)
	}

	base := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	day := func(n int) *time.Time {
		d := base.AddDate(0, 0, n)
		return &d
	}
	if _, err := svcs.Process.UpdateSchedule(ctx, p.ID, "user-1", entity.Schedule{
		PublicationDate:   day(0),
		ChallengeDeadline: day(3),
		IntakeStart:       day(1),
		IntakeEnd:         day(8),
		SessionOpening:    day(9),
	}); err != nil {
		t.Fatalf("update schedule: %v", err)
	}

	confirmed, err := svcs.Process.ConfirmRegistryPublication(ctx, p.ID, "user-1", ids)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Phase != phase.Published || confirmed.IntakeStart == nil {
		t.Fatalf("expected published with schedule, got phase=%s intake_start=%v", confirmed.Phase, confirmed.IntakeStart)
	}
}

func TestSummarize(t *testing.T) {
	items := []entity.LineItem{
		{Status: entity.ItemStatusActive, Quantity: decimal.NewFromInt(2), UnitEstimated: decimal.NewFromInt(10)},
		{Status: entity.ItemStatusAwarded, Quantity: decimal.NewFromInt(1), UnitEstimated: decimal.NewFromInt(50),
			UnitAwarded: decimal.NewNullDecimal(decimal.NewFromInt(40))},
		{Status: entity.ItemStatusCancelled, Quantity: decimal.NewFromInt(5), UnitEstimated: decimal.NewFromInt(1)},
	}
	for i := range items {
		items[i].Recalculate()
	}

	s := Summarize(items)
	if s.ItemCount != 3 || s.CountByStatus[entity.ItemStatusActive] != 1 || s.CountByStatus[entity.ItemStatusCancelled] != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if !s.EstimatedTotal.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected estimated total 70 over non-cancelled items, got %s", s.EstimatedTotal)
	}
	if !s.AwardedTotal.Equal(decimal.NewFromInt(40)) || !s.Savings.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected award totals %s savings %s", s.AwardedTotal, s.Savings)
	}
	if !s.SavingsPercent.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20%% savings, got %s", s.SavingsPercent)
	}
}
