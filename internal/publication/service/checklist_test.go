package service

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
)

var testSettings = Settings{
	CNPJ:     "11.222.333/0001-81",
	OrgName:  "Prefeitura de Teste",
	UnitCode: "001",
	UnitName: "Secretaria de Administração",
	AppURL:   "https://portal.example.gov.br",
}

func readyProcess(now time.Time) *procentity.Process {
	published := now
	challenge := now.Add(24 * time.Hour)
	session := now.Add(10 * 24 * time.Hour)
	start := now.Add(2 * 24 * time.Hour)
	end := now.Add(9 * 24 * time.Hour)
	return &procentity.Process{
		ID:                "proc-1",
		ProcessNumber:     "001/2025",
		Year:              2025,
		Object:            "Aquisição de material de expediente",
		Modality:          procentity.ModalityPregaoEletronico,
		Criterion:         procentity.CriterionLowestPrice,
		DisputeMode:       procentity.DisputeModeOpen,
		Phase:             phase.InternalApproval,
		BudgetSecrecy:     procentity.BudgetPublic,
		PublicationDate:   &published,
		ChallengeDeadline: &challenge,
		SessionOpening:    &session,
		IntakeStart:       &start,
		IntakeEnd:         &end,
		EdictDocumentKey:  "processes/proc-1/1700000000_edital.pdf",
		EstimatedTotal:    decimal.NewFromInt(150),
		Items: []procentity.LineItem{
			{ID: "item-1", Number: 1, Description: "Caneta azul", Unit: "UN", ItemType: procentity.ItemTypeMaterial,
				Quantity: decimal.NewFromInt(100), UnitEstimated: decimal.NewFromFloat(1.5), Status: procentity.ItemStatusActive,
				Participation: procentity.ParticipationOpen},
		},
	}
}

func failedChecks(r *ValidationReport) []string {
	var names []string
	for _, c := range r.Checklist {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

func TestValidateProcessReady(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r := ValidateProcess(readyProcess(now), testSettings, now)
	if !r.Valid {
		t.Fatalf("expected valid report, errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidateProcessFailures(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		settings Settings
		mutate   func(p *procentity.Process)
		want     string
	}{
		{"invalid cnpj", Settings{CNPJ: "11222333000100", UnitCode: "001"}, nil, "org_cnpj"},
		{"missing unit", Settings{CNPJ: testSettings.CNPJ}, nil, "unit_code"},
		{"missing number", testSettings, func(p *procentity.Process) { p.ProcessNumber = " " }, "process_number"},
		{"short object", testSettings, func(p *procentity.Process) { p.Object = "Canetas" }, "object"},
		{"unsupported modality", testSettings, func(p *procentity.Process) { p.Modality = "CONVITE" }, "modality"},
		{"missing session", testSettings, func(p *procentity.Process) { p.SessionOpening = nil }, "schedule"},
		{"missing intake end", testSettings, func(p *procentity.Process) { p.IntakeEnd = nil }, "schedule"},
		{"missing publication date", testSettings, func(p *procentity.Process) { p.PublicationDate = nil }, "schedule"},
		{"missing challenge deadline", testSettings, func(p *procentity.Process) { p.ChallengeDeadline = nil }, "schedule"},
		{"still internal", testSettings, func(p *procentity.Process) { p.Phase = phase.LegalReview }, "phase"},
		{"terminal", testSettings, func(p *procentity.Process) { p.Phase = phase.Revoked }, "phase"},
		{"no edict", testSettings, func(p *procentity.Process) { p.EdictDocumentKey = "" }, "edict_document"},
		{"no active items", testSettings, func(p *procentity.Process) { p.Items[0].Status = procentity.ItemStatusCancelled }, "items"},
		{"zero quantity", testSettings, func(p *procentity.Process) { p.Items[0].Quantity = decimal.Zero }, "item_1"},
		{"zero unit value", testSettings, func(p *procentity.Process) { p.Items[0].UnitEstimated = decimal.Zero }, "item_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := readyProcess(now)
			if tt.mutate != nil {
				tt.mutate(p)
			}
			r := ValidateProcess(p, tt.settings, now)
			if r.Valid {
				t.Fatalf("expected invalid report")
			}
			found := false
			for _, name := range failedChecks(r) {
				if name == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected failed check %s, got %v", tt.want, failedChecks(r))
			}
			if r.Summary() == "" {
				t.Fatalf("expected a summary")
			}
		})
	}
}

func TestValidateProcessWarnings(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := readyProcess(now)
	past := now.Add(-time.Hour)
	p.SessionOpening = &past
	p.Phase = phase.Published
	p.BudgetSecrecy = procentity.BudgetSecret

	r := ValidateProcess(p, testSettings, now)
	if !r.Valid {
		t.Fatalf("warnings must not invalidate the report: %v", r.Errors)
	}
	if len(r.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", r.Warnings)
	}
	if !strings.Contains(r.Warnings[0], "past") {
		t.Fatalf("expected past session warning first, got %q", r.Warnings[0])
	}
}

func TestSituationFor(t *testing.T) {
	tests := []struct {
		phase phase.Phase
		want  int
	}{
		{phase.Published, pncp.SituationDivulgada},
		{phase.ProposalIntake, pncp.SituationDivulgada},
		{phase.Suspended, pncp.SituationSuspensa},
		{phase.Revoked, pncp.SituationRevogada},
		{phase.Annulled, pncp.SituationAnulada},
		{phase.NoBid, pncp.SituationDeserta},
		{phase.Failed, pncp.SituationFracassada},
	}
	for _, tt := range tests {
		if got := SituationFor(tt.phase); got != tt.want {
			t.Fatalf("SituationFor(%s) = %d, want %d", tt.phase, got, tt.want)
		}
	}
}

func TestMapItemCarriesBudgetSecrecy(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := readyProcess(now)
	p.BudgetSecrecy = procentity.BudgetSecret
	p.Items[0].ItemType = procentity.ItemTypeService
	p.Items[0].Participation = procentity.ParticipationExclusiveMPE

	item := MapItem(&p.Items[0], p)
	if !item.OrcamentoSigiloso {
		t.Fatalf("expected confidential budget flag")
	}
	if item.MaterialOuServico != "S" || item.TipoBeneficioID != benefitExclusive {
		t.Fatalf("unexpected item mapping %+v", item)
	}
	if item.ValorTotal != 150 {
		t.Fatalf("expected total 150, got %v", item.ValorTotal)
	}
}

func TestMapItemsSkipsCancelled(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := readyProcess(now)
	p.Items = append(p.Items, procentity.LineItem{ID: "item-2", Number: 2, Status: procentity.ItemStatusCancelled})
	if got := len(MapItems(p)); got != 1 {
		t.Fatalf("expected 1 mapped item, got %d", got)
	}
}

func TestMapPurchase(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := readyProcess(now)
	out := MapPurchase(p, testSettings, now)

	if out.CodigoModalidadeContratacao != pncp.ModalityPregaoEletronico {
		t.Fatalf("unexpected modality code %d", out.CodigoModalidadeContratacao)
	}
	if out.OrgaoEntidade.CNPJ != "11222333000181" {
		t.Fatalf("expected digits-only cnpj, got %s", out.OrgaoEntidade.CNPJ)
	}
	if out.DataInclusao != "2025-03-01" || out.DataAberturaProposta != "2025-03-03T09:00:00" {
		t.Fatalf("unexpected dates %s %s", out.DataInclusao, out.DataAberturaProposta)
	}
	if out.LinkSistemaOrigem != "https://portal.example.gov.br/processes/proc-1" {
		t.Fatalf("unexpected link %s", out.LinkSistemaOrigem)
	}
	if out.NumeroCompra != "001/2025" {
		t.Fatalf("expected process number as purchase number, got %s", out.NumeroCompra)
	}
}

func TestMapResultDiscount(t *testing.T) {
	it := &procentity.LineItem{
		Number:        1,
		Quantity:      decimal.NewFromInt(10),
		UnitEstimated: decimal.NewFromInt(20),
		UnitAwarded:   decimal.NewNullDecimal(decimal.NewFromInt(15)),
	}
	now := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	r := MapResult(it, &ResultRequest{SupplierDocument: "11.222.333/0001-81", SupplierName: "ACME"}, now)

	if r.TipoPessoa != "PJ" || r.NiFornecedor != "11222333000181" {
		t.Fatalf("unexpected supplier mapping %+v", r)
	}
	if r.ValorTotalHomologado != 150 || r.PercentualDesconto != 25 {
		t.Fatalf("unexpected values total=%v discount=%v", r.ValorTotalHomologado, r.PercentualDesconto)
	}
	if r.DataResultado != "2025-05-02" {
		t.Fatalf("unexpected date %s", r.DataResultado)
	}

	person := MapResult(it, &ResultRequest{SupplierDocument: "123.456.789-09"}, now)
	if person.TipoPessoa != "PF" {
		t.Fatalf("expected PF for an 11 digit document")
	}
}

func TestEnvironmentOf(t *testing.T) {
	tests := map[string]string{
		"https://treina.pncp.gov.br/api/pncp/v1": EnvironmentTraining,
		"https://pncp.gov.br/api/pncp/v1":        EnvironmentProduction,
		"http://localhost:8080":                  EnvironmentUnconfigured,
	}
	for url, want := range tests {
		if got := EnvironmentOf(url); got != want {
			t.Fatalf("EnvironmentOf(%s) = %s, want %s", url, got, want)
		}
	}
}
