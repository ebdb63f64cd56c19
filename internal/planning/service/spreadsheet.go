package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/xuri/excelize/v2"
)

var planExportHeaders = []string{
	"Nº", "Categoria", "Descrição", "Código Catálogo", "Unidade", "Quantidade",
	"Valor Unitário", "Valor Estimado", "Valor Consumido", "Saldo", "Unidade Requisitante",
	"Data Desejada", "Trimestre", "Prioridade", "Renovação", "Situação",
}

// 导入表头（归一化后）到字段
var importColumns = map[string]string{
	"categoria":           "category",
	"descricao":           "description",
	"descricaodoobjeto":   "description",
	"codigocatalogo":      "catalog_code",
	"codigoitemcatalogo":  "catalog_code",
	"unidade":             "unit",
	"unidadedemedida":     "unit",
	"quantidade":          "quantity",
	"valorunitario":       "unit_estimated",
	"valorestimado":       "estimated_value",
	"unidaderequisitante": "requesting_unit",
	"datadesejada":        "desired_date",
	"prioridade":          "priority",
	"renovacao":           "renewable",
	"justificativa":       "rationale",
}

// ExportPlan 导出计划行为xlsx
func (s *PlanService) ExportPlan(ctx context.Context, planID string) (*excelize.File, string, error) {
	plan, err := s.Get(ctx, planID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "PCA"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range planExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	total := decimal.Zero
	for i, l := range plan.Lines {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), l.Number)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), l.Category)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), l.Description)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), l.CatalogCode)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), l.Unit)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), l.Quantity.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), l.UnitEstimated.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), l.EstimatedValue.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), l.ConsumedValue.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), l.Balance().InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("K%d", row), l.RequestingUnit)
		if l.DesiredDate != nil {
			f.SetCellValue(sheet, fmt.Sprintf("L%d", row), l.DesiredDate.Format("02/01/2006"))
		}
		f.SetCellValue(sheet, fmt.Sprintf("M%d", row), l.Quarter)
		f.SetCellValue(sheet, fmt.Sprintf("N%d", row), l.Priority)
		renewable := "NÃO"
		if l.Renewable {
			renewable = "SIM"
		}
		f.SetCellValue(sheet, fmt.Sprintf("O%d", row), renewable)
		f.SetCellValue(sheet, fmt.Sprintf("P%d", row), l.Status)
		if l.Status == entity.LineStatusPlanned {
			total = total.Add(l.EstimatedValue)
		}
	}

	summaryRow := len(plan.Lines) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "Total")
	f.SetCellValue(sheet, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("%d itens", len(plan.Lines)))
	f.SetCellValue(sheet, fmt.Sprintf("H%d", summaryRow), total.InexactFloat64())
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("P%d", summaryRow), summaryStyle)

	widths := []float64{6, 18, 40, 16, 10, 12, 14, 16, 16, 16, 24, 14, 10, 10, 10, 14}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("PCA_%d_%s.xlsx", plan.Year, plan.OrgID)
	return f, filename, nil
}

// ParsePlanSpreadsheet 按表头名称读取首个工作表，返回候选行和解析失败的行
func ParsePlanSpreadsheet(f *excelize.File) ([]PlanLineInput, []ImportOutcome, error) {
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, nil, fmt.Errorf("read excel: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, nil
	}

	columns := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := importColumns[NormalizeDescription(h)]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	if _, ok := columns["description"]; !ok {
		return nil, nil, fmt.Errorf("spreadsheet has no description column")
	}

	var candidates []PlanLineInput
	var failures []ImportOutcome
	for i, row := range rows[1:] {
		get := func(field string) string {
			idx, ok := columns[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if get("description") == "" {
			continue
		}

		in, err := parseRow(get)
		if err != nil {
			failures = append(failures, ImportOutcome{
				Row:         i + 2,
				Description: truncateRunes(get("description"), detailDescriptionLength),
				Status:      OutcomeError,
				Reason:      err.Error(),
			})
			continue
		}
		candidates = append(candidates, in)
	}
	return candidates, failures, nil
}

func parseRow(get func(string) string) (PlanLineInput, error) {
	in := PlanLineInput{
		Category:       strings.ToUpper(get("category")),
		Description:    get("description"),
		Rationale:      get("rationale"),
		CatalogCode:    get("catalog_code"),
		Unit:           get("unit"),
		RequestingUnit: get("requesting_unit"),
	}

	var err error
	if in.Quantity, err = parseAmount(get("quantity")); err != nil {
		return in, fmt.Errorf("quantity: %w", err)
	}
	if in.UnitEstimated, err = parseAmount(get("unit_estimated")); err != nil {
		return in, fmt.Errorf("unit value: %w", err)
	}
	if in.EstimatedValue, err = parseAmount(get("estimated_value")); err != nil {
		return in, fmt.Errorf("estimated value: %w", err)
	}
	if v := get("priority"); v != "" {
		if in.Priority, err = strconv.Atoi(v); err != nil {
			return in, fmt.Errorf("priority: %w", err)
		}
	}
	if v := get("desired_date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return in, fmt.Errorf("desired date: %w", err)
		}
		in.DesiredDate = &d
	}
	switch strings.ToUpper(get("renewable")) {
	case "SIM", "S", "1", "TRUE", "X":
		in.Renewable = true
	}
	return in, nil
}

// parseAmount 支持 1234.56 与 1.234,56 两种写法
func parseAmount(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "R$"))
	if v == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(v, ",") {
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	}
	return decimal.NewFromString(v)
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{"02/01/2006", "2006-01-02", "01-02-06"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// ImportSpreadsheet 解析xlsx并逐行导入
func (s *PlanService) ImportSpreadsheet(ctx context.Context, planID string, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	candidates, failures, err := ParsePlanSpreadsheet(f)
	if err != nil {
		return nil, err
	}
	report, err := s.ImportLinesWithDuplicateDetection(ctx, planID, candidates)
	if err != nil {
		return nil, err
	}
	report.Errors += len(failures)
	report.Lines = append(report.Lines, failures...)
	return report, nil
}
