package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

func sentPlan() *entity.AnnualPlan {
	return &entity.AnnualPlan{Number: "PCA 2025", Year: 2025, Status: entity.PlanStatusSentToRegistry}
}

func TestCheckLinkable(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		est      int64
		consumed int64
		amount   int64
		code     string
	}{
		{"fits", entity.PlanStatusSentToRegistry, 10000, 0, 6000, ""},
		{"exact balance", entity.PlanStatusSentToRegistry, 10000, 6000, 4000, ""},
		{"insufficient", entity.PlanStatusSentToRegistry, 10000, 6000, 4500, apperr.CodeInsufficientBalance},
		{"exhausted", entity.PlanStatusSentToRegistry, 10000, 10000, 1, apperr.CodePlanExhausted},
		{"not published", entity.PlanStatusPublished, 10000, 0, 1, apperr.CodePlanNotPublished},
		{"not published wins over exhausted", entity.PlanStatusApproved, 100, 100, 1, apperr.CodePlanNotPublished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := sentPlan()
			plan.Status = tt.status
			line := &entity.PlanLine{
				Number:         1,
				EstimatedValue: decimal.NewFromInt(tt.est),
				ConsumedValue:  decimal.NewFromInt(tt.consumed),
			}
			err := CheckLinkable(plan, line, decimal.NewFromInt(tt.amount))
			if tt.code == "" {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !apperr.Is(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey(TargetItem, "abc"); got != "item:abc" {
		t.Fatalf("unexpected key %q", got)
	}
	if IdempotencyKey(TargetLot, "x") == IdempotencyKey(TargetItem, "x") {
		t.Fatalf("keys for different target types must differ")
	}
}
