package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/planning/repository"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"github.com/valleteclab/portaldcp/internal/shared/testutil"
)

func approvedDemand(t *testing.T, demands *DemandService, title string, lines ...DemandLineRequest) *entity.Demand {
	t.Helper()
	ctx := context.Background()
	d, err := demands.Create(ctx, "user-1", &CreateDemandRequest{
		OrgID:          "org-test",
		Year:           2026,
		Title:          title,
		RequestingUnit: "Secretaria de Saúde",
		Lines:          lines,
	})
	if err != nil {
		t.Fatalf("create demand: %v", err)
	}
	if _, err := demands.Submit(ctx, d.ID); err != nil {
		t.Fatalf("submit demand: %v", err)
	}
	if _, err := demands.Approve(ctx, d.ID, "reviewer-1"); err != nil {
		t.Fatalf("approve demand: %v", err)
	}
	return d
}

func TestConsolidateApprovedDemands(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repos := repository.NewRepositories(db)
	plans := NewPlanService(repos, db)
	demands := NewDemandService(repos)

	plan, err := plans.CreatePlan(ctx, "user-1", &CreatePlanRequest{OrgID: "org-test", Year: 2026})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	approved := approvedDemand(t, demands, "Material hospitalar",
		DemandLineRequest{Description: "Luvas", Unit: "CX", Quantity: decimal.NewFromInt(10), UnitEstimated: decimal.NewFromInt(50)},
		DemandLineRequest{Description: "Máscaras", Unit: "CX", Quantity: decimal.NewFromInt(4), UnitEstimated: decimal.NewFromInt(25)},
	)
	draft, err := demands.Create(ctx, "user-1", &CreateDemandRequest{
		OrgID: "org-test", Year: 2026, Title: "Rascunho",
		Lines: []DemandLineRequest{{Description: "Papel", Quantity: decimal.NewFromInt(1), UnitEstimated: decimal.NewFromInt(10)}},
	})
	if err != nil {
		t.Fatalf("create draft demand: %v", err)
	}

	report, err := plans.ConsolidateApprovedDemands(ctx, plan.ID, []string{approved.ID, draft.ID, "missing-demand"})
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if report.Consolidated != 1 || report.LinesCreated != 2 || len(report.Skipped) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, err := demands.Get(ctx, approved.ID)
	if err != nil {
		t.Fatalf("get demand: %v", err)
	}
	if got.Status != entity.DemandStatusConsolidated || got.PlanID == nil || *got.PlanID != plan.ID || got.ConsolidatedAt == nil {
		t.Fatalf("demand not marked consolidated: status=%s plan=%v", got.Status, got.PlanID)
	}
	for _, dl := range got.Lines {
		if dl.PlanLineID == nil {
			t.Fatalf("demand line %d not linked to a plan line", dl.Number)
		}
		line, err := plans.GetLine(ctx, *dl.PlanLineID)
		if err != nil {
			t.Fatalf("get plan line: %v", err)
		}
		if line.Description != dl.Description || line.RequestingUnit != "Secretaria de Saúde" {
			t.Fatalf("plan line %s does not mirror demand line %d", line.ID, dl.Number)
		}
	}

	if d, _ := demands.Get(ctx, draft.ID); d.Status != entity.DemandStatusDraft {
		t.Fatalf("draft demand must stay draft, got %s", d.Status)
	}

	reloaded, err := plans.Get(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if !reloaded.TotalEstimated.Equal(decimal.NewFromInt(600)) || reloaded.LineCount != 2 {
		t.Fatalf("expected totals 600 over 2 lines, got %s over %d", reloaded.TotalEstimated, reloaded.LineCount)
	}

	// 重复汇总：需求已不是approved，不再生成行
	again, err := plans.ConsolidateApprovedDemands(ctx, plan.ID, []string{approved.ID})
	if err != nil {
		t.Fatalf("consolidate again: %v", err)
	}
	if again.Consolidated != 0 || again.LinesCreated != 0 || len(again.Skipped) != 1 {
		t.Fatalf("second run must skip, got %+v", again)
	}
	lines, err := plans.ListLines(ctx, plan.ID, nil)
	if err != nil {
		t.Fatalf("list lines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 plan lines after re-run, got %d", len(lines))
	}
}

func TestConsolidateRejectsSentPlan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	plans := NewPlanService(repos, db)
	plan, _ := testutil.SeedPlanLine(t, db, "org-test", 2025, decimal.NewFromInt(1000))

	_, err := plans.ConsolidateApprovedDemands(context.Background(), plan.ID, []string{"any"})
	if !apperr.Is(err, apperr.CodePlanImmutable) {
		t.Fatalf("expected plan_immutable, got %v", err)
	}
}

func TestRolloverCopiesRenewableAndDeferredLines(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	plans := NewPlanService(repository.NewRepositories(db), db)
	plan, _ := testutil.SeedPlanLine(t, db, "org-test", 2025, decimal.NewFromInt(1000))

	desired := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	extra := []entity.PlanLine{
		{Number: 2, Description: "Locação de veículos", Renewable: true, Status: entity.LineStatusContracted, DesiredDate: &desired},
		{Number: 3, Description: "Reforma do almoxarifado", Status: entity.LineStatusDeferred},
		{Number: 4, Description: "Aquisição cancelada", Status: entity.LineStatusCancelled},
	}
	for i := range extra {
		l := extra[i]
		l.ID = testutil.NewID()
		l.PlanID = plan.ID
		l.Category = entity.CategoryService
		l.Quantity = decimal.NewFromInt(1)
		l.UnitEstimated = decimal.NewFromInt(500)
		l.EstimatedValue = decimal.NewFromInt(500)
		l.ConsumedValue = decimal.Zero
		l.Priority = 3
		if err := db.Create(&l).Error; err != nil {
			t.Fatalf("seed line %d: %v", l.Number, err)
		}
	}

	next, err := plans.RolloverToNextYear(ctx, plan.ID, "user-1")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if next.Year != 2026 || next.Status != entity.PlanStatusDraft {
		t.Fatalf("expected draft plan for 2026, got %d %s", next.Year, next.Status)
	}
	if len(next.Lines) != 2 {
		t.Fatalf("expected renewable and deferred lines only, got %d", len(next.Lines))
	}

	got := map[string]entity.PlanLine{}
	for _, l := range next.Lines {
		got[l.Description] = l
	}
	renewed, ok := got["Locação de veículos"]
	if !ok {
		t.Fatalf("renewable line not copied")
	}
	if renewed.DesiredDate == nil || !renewed.DesiredDate.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("desired date not shifted one year: %v", renewed.DesiredDate)
	}
	if !renewed.ConsumedValue.IsZero() || renewed.Status != entity.LineStatusPlanned {
		t.Fatalf("copied line must start fresh, got consumed=%s status=%s", renewed.ConsumedValue, renewed.Status)
	}
	if _, ok := got["Reforma do almoxarifado"]; !ok {
		t.Fatalf("deferred line not copied")
	}
	if !next.TotalEstimated.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total 1000, got %s", next.TotalEstimated)
	}

	if _, err := plans.RolloverToNextYear(ctx, plan.ID, "user-1"); !apperr.Is(err, apperr.CodePlanExists) {
		t.Fatalf("expected plan_exists on second rollover, got %v", err)
	}
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	_, line := testutil.SeedPlanLine(t, db, "org-test", 2025, decimal.NewFromInt(10000))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		refused int
		other   []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("item-%d", i)
			res, err := ledger.ConsumeBalance(ctx, ConsumeRequest{
				PlanLineID:     line.ID,
				Amount:         decimal.NewFromInt(3000),
				IdempotencyKey: IdempotencyKey(TargetItem, target),
				TargetType:     TargetItem,
				TargetID:       target,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Applied:
				applied++
			case apperr.Is(err, apperr.CodeInsufficientBalance), apperr.Is(err, apperr.CodePlanExhausted):
				refused++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	// 10000 / 3000：最多三笔成功
	if applied != 3 || refused != workers-3 {
		t.Fatalf("expected 3 applied and %d refused, got %d and %d", workers-3, applied, refused)
	}

	var reloaded entity.PlanLine
	if err := db.First(&reloaded, "id = ?", line.ID).Error; err != nil {
		t.Fatalf("reload line: %v", err)
	}
	if !reloaded.ConsumedValue.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected consumed 9000, got %s", reloaded.ConsumedValue)
	}
	if reloaded.ConsumedValue.GreaterThan(reloaded.EstimatedValue) {
		t.Fatalf("line overdrawn: consumed %s > estimated %s", reloaded.ConsumedValue, reloaded.EstimatedValue)
	}

	consumptions, err := ledger.Consumptions(ctx, line.ID)
	if err != nil {
		t.Fatalf("list consumptions: %v", err)
	}
	if len(consumptions) != applied {
		t.Fatalf("expected %d consumption rows, got %d", applied, len(consumptions))
	}
}

func TestWithdrawFromRegistry(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	plans := NewPlanService(repository.NewRepositories(db), db)

	plan, line := testutil.SeedPlanLine(t, db, "org-test", 2025, decimal.NewFromInt(1000))
	if err := plans.RecordLineRegistration(ctx, line.ID, 1); err != nil {
		t.Fatalf("record registration: %v", err)
	}

	got, err := plans.WithdrawFromRegistry(ctx, plan.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Status != entity.PlanStatusApproved || got.RegistryControlNumber != "" || got.RegistrySequence != 0 || got.SentAt != nil {
		t.Fatalf("plan not reset: %+v", got)
	}
	reloaded, err := plans.GetLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("get line: %v", err)
	}
	if reloaded.RegistrySequence != 0 {
		t.Fatalf("line sequence must be cleared, got %d", reloaded.RegistrySequence)
	}
	if _, err := plans.WithdrawFromRegistry(ctx, plan.ID); !apperr.Is(err, apperr.CodeNotSubmitted) {
		t.Fatalf("second withdraw: expected not_submitted, got %v", err)
	}

	// 已被流程消耗的计划不能撤回
	used, usedLine := testutil.SeedPlanLine(t, db, "org-test", 2026, decimal.NewFromInt(1000))
	if _, err := ledger.ConsumeBalance(ctx, ConsumeRequest{
		PlanLineID:     usedLine.ID,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: IdempotencyKey(TargetProcess, "proc-a"),
		TargetType:     TargetProcess,
		TargetID:       "proc-a",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := plans.WithdrawFromRegistry(ctx, used.ID); !apperr.Is(err, apperr.CodePlanImmutable) {
		t.Fatalf("expected plan_immutable for consumed plan, got %v", err)
	}
}
