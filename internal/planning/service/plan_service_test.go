package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/xuri/excelize/v2"
)

func TestShiftOneYear(t *testing.T) {
	tests := []struct {
		in, want time.Time
	}{
		{time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := ShiftOneYear(tt.in); !got.Equal(tt.want) {
			t.Fatalf("ShiftOneYear(%s) = %s, want %s", tt.in.Format("2006-01-02"), got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestComputeStatistics(t *testing.T) {
	lines := []entity.PlanLine{
		{Category: entity.CategoryMaterial, Quarter: 1, Priority: 1, Status: entity.LineStatusPlanned,
			EstimatedValue: decimal.NewFromInt(1000), ConsumedValue: decimal.NewFromInt(1000), Exhausted: true},
		{Category: entity.CategoryMaterial, Quarter: 2, Priority: 3, Status: entity.LineStatusPlanned,
			EstimatedValue: decimal.NewFromInt(500), ConsumedValue: decimal.Zero},
		{Category: entity.CategoryService, Priority: 3, Status: entity.LineStatusDeferred,
			EstimatedValue: decimal.NewFromInt(250), ConsumedValue: decimal.NewFromInt(50)},
	}
	st := ComputeStatistics(lines)

	if b := st.ByCategory[entity.CategoryMaterial]; b == nil || b.Count != 2 || !b.Value.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected material bucket: %+v", b)
	}
	if len(st.ByQuarter) != 2 {
		t.Fatalf("lines without a desired date have no quarter, got %d quarters", len(st.ByQuarter))
	}
	if st.ByStatus[entity.LineStatusPlanned] != 2 || st.ByPriority[3] != 2 {
		t.Fatalf("unexpected counts: status=%v priority=%v", st.ByStatus, st.ByPriority)
	}
	if !st.Estimated.Equal(decimal.NewFromInt(1750)) || !st.Consumed.Equal(decimal.NewFromInt(1050)) {
		t.Fatalf("unexpected totals: %s / %s", st.Estimated, st.Consumed)
	}
	if st.Exhausted != 1 {
		t.Fatalf("expected 1 exhausted line, got %d", st.Exhausted)
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"":             "0",
		"1234.56":      "1234.56",
		"1.234,56":     "1234.56",
		"R$ 10.000,00": "10000",
		"15":           "15",
	}
	for in, want := range tests {
		got, err := parseAmount(in)
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", in, err)
		}
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("parseAmount(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := parseAmount("abc"); err == nil {
		t.Fatalf("expected error for non numeric amount")
	}
}

func TestParsePlanSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Categoria", "Descrição", "Código Catálogo", "Quantidade", "Valor Unitário", "Data Desejada", "Renovação"},
		{"material", "Papel A4", "CAT-1", "10", "25,50", "15/03/2025", "SIM"},
		{"SERVICO", "Limpeza predial", "", "1", "1.200,00", "", "não"},
		{"MATERIAL", "", "", "", "", "", ""},
		{"MATERIAL", "Toner", "", "x", "10", "", ""},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	candidates, failures, err := ParsePlanSpreadsheet(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.Category != entity.CategoryMaterial || first.CatalogCode != "CAT-1" || !first.Renewable {
		t.Fatalf("unexpected first candidate: %+v", first)
	}
	if !first.UnitEstimated.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected unit value %s", first.UnitEstimated)
	}
	if first.DesiredDate == nil || first.DesiredDate.Month() != time.March {
		t.Fatalf("desired date not parsed: %v", first.DesiredDate)
	}
	if candidates[1].Renewable {
		t.Fatalf("second line is not renewable")
	}
	if len(failures) != 1 || failures[0].Row != 5 || failures[0].Status != OutcomeError {
		t.Fatalf("unexpected failures: %+v", failures)
	}
}

func TestParsePlanSpreadsheetRequiresDescription(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	f.SetCellValue(sheet, "A1", "Categoria")
	f.SetCellValue(sheet, "A2", "MATERIAL")
	if _, _, err := ParsePlanSpreadsheet(f); err == nil {
		t.Fatalf("expected error when description column is missing")
	}
}
