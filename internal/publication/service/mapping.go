package service

import (
	"time"

	"github.com/shopspring/decimal"
	planentity "github.com/valleteclab/portaldcp/internal/planning/entity"
	procentity "github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	"github.com/valleteclab/portaldcp/internal/shared/pncp"
)

const (
	dateTimeLayout = "2006-01-02T15:04:05"
	dateLayout     = "2006-01-02"
)

// 行项受益类型
const (
	benefitExclusive = 1
	benefitQuota     = 2
	benefitNone      = 4
)

// SituationFor 流程阶段到平台采购状态
func SituationFor(p phase.Phase) int {
	switch p {
	case phase.Revoked:
		return pncp.SituationRevogada
	case phase.Annulled:
		return pncp.SituationAnulada
	case phase.Suspended:
		return pncp.SituationSuspensa
	case phase.NoBid:
		return pncp.SituationDeserta
	case phase.Failed:
		return pncp.SituationFracassada
	}
	return pncp.SituationDivulgada
}

// ItemSituationFor 行项状态到平台行项状态
func ItemSituationFor(status string) int {
	switch status {
	case procentity.ItemStatusCancelled:
		return pncp.ItemSituationCancelado
	case procentity.ItemStatusNoBid:
		return pncp.ItemSituationDeserto
	case procentity.ItemStatusFailed:
		return pncp.ItemSituationFracassado
	}
	return pncp.ItemSituationAtivo
}

// BenefitFor 参与方式到受益类型
func BenefitFor(participation string) int {
	switch participation {
	case procentity.ParticipationExclusiveMPE:
		return benefitExclusive
	case procentity.ParticipationReservedQuota:
		return benefitQuota
	}
	return benefitNone
}

// MapPurchase 流程 -> 平台采购报文（不含行项）
func MapPurchase(p *procentity.Process, s Settings, now time.Time) *pncp.Purchase {
	modality, _ := pncp.ModalityCode(p.Modality)
	out := &pncp.Purchase{
		AnoCompra:                   p.Year,
		CodigoUnidadeCompradora:     s.UnitCode,
		CodigoModalidadeContratacao: modality,
		CodigoModoDisputa:           pncp.DisputeCode(p.DisputeMode),
		CodigoSituacaoCompra:        SituationFor(p.Phase),
		TipoInstrumentoConvocatorio: pncp.InstrumentEdital,
		AmparoLegalID:               pncp.DefaultLegalBasis,
		DataAberturaProposta:        formatTime(p.IntakeStart, dateTimeLayout),
		DataEncerramentoProposta:    formatTime(p.IntakeEnd, dateTimeLayout),
		DataInclusao:                now.Format(dateLayout),
		InformacaoComplementar:      p.Notes,
		NumeroCompra:                purchaseNumber(p),
		NumeroProcesso:              p.ProcessNumber,
		ObjetoCompra:                p.Object,
		OrgaoEntidade:               pncp.OrgEntity{CNPJ: pncp.DigitsOnly(s.CNPJ), RazaoSocial: s.OrgName},
		UnidadeOrgao:                pncp.OrgUnit{CodigoUnidade: s.UnitCode, NomeUnidade: s.UnitName},
		SRP:                         p.SRP,
		ValorTotalEstimado:          p.EstimatedTotal.InexactFloat64(),
	}
	if out.DataAberturaProposta == "" {
		out.DataAberturaProposta = formatTime(p.SessionOpening, dateTimeLayout)
	}
	if s.AppURL != "" {
		out.LinkSistemaOrigem = s.AppURL + "/processes/" + p.ID
	}
	return out
}

// MapItem 行项 -> 平台行项，预算保密标志逐项携带
func MapItem(it *procentity.LineItem, p *procentity.Process) pncp.Item {
	kind := "M"
	if it.ItemType == procentity.ItemTypeService {
		kind = "S"
	}
	return pncp.Item{
		NumeroItem:            it.Number,
		MaterialOuServico:     kind,
		TipoBeneficioID:       BenefitFor(it.Participation),
		Descricao:             it.Description,
		Quantidade:            it.Quantity.InexactFloat64(),
		UnidadeMedida:         it.Unit,
		ValorUnitarioEstimado: it.UnitEstimated.InexactFloat64(),
		ValorTotal:            it.Quantity.Mul(it.UnitEstimated).InexactFloat64(),
		SituacaoCompraItemID:  ItemSituationFor(it.Status),
		CriterioJulgamentoID:  pncp.CriterionCode(p.Criterion),
		CodigoItemCatalogo:    it.CatalogCode,
		OrcamentoSigiloso:     p.BudgetSecrecy == procentity.BudgetSecret,
	}
}

// MapItems 已取消的行项不报送
func MapItems(p *procentity.Process) []pncp.Item {
	items := make([]pncp.Item, 0, len(p.Items))
	for i := range p.Items {
		if p.Items[i].Status == procentity.ItemStatusCancelled {
			continue
		}
		items = append(items, MapItem(&p.Items[i], p))
	}
	return items
}

// ResultRequest 行项结果中来自外部的供应商信息
type ResultRequest struct {
	SupplierDocument string     `json:"supplier_document" binding:"required"`
	SupplierName     string     `json:"supplier_name"`
	ResultDate       *time.Time `json:"result_date"`
	Subcontracting   bool       `json:"subcontracting"`
}

// MapResult 已授予行项 -> 平台结果
func MapResult(it *procentity.LineItem, req *ResultRequest, now time.Time) *pncp.Result {
	unit := it.UnitAwarded.Decimal
	total := it.Quantity.Mul(unit)
	if it.TotalAwarded.Valid {
		total = it.TotalAwarded.Decimal
	}
	doc := pncp.DigitsOnly(req.SupplierDocument)
	personType := "PJ"
	if len(doc) == 11 {
		personType = "PF"
	}
	name := req.SupplierName
	if name == "" {
		name = it.WinnerSupplierName
	}
	date := now
	if req.ResultDate != nil {
		date = *req.ResultDate
	}
	out := &pncp.Result{
		DataResultado:             date.Format(dateLayout),
		NiFornecedor:              doc,
		TipoPessoa:                personType,
		NomeRazaoSocialFornecedor: name,
		QuantidadeHomologada:      it.Quantity.InexactFloat64(),
		ValorUnitarioHomologado:   unit.InexactFloat64(),
		ValorTotalHomologado:      total.InexactFloat64(),
		IndicadorSubcontratacao:   req.Subcontracting,
		CodigoPais:                "BRA",
	}
	if it.UnitEstimated.IsPositive() && unit.LessThan(it.UnitEstimated) {
		discount := decimal.NewFromInt(1).Sub(unit.Div(it.UnitEstimated)).Mul(decimal.NewFromInt(100)).Round(2)
		out.PercentualDesconto = discount.InexactFloat64()
	}
	return out
}

// ContractRequest 合同报送内容
type ContractRequest struct {
	Number           string          `json:"number" binding:"required"`
	Year             int             `json:"year"`
	TypeID           int             `json:"type_id"`
	Object           string          `json:"object"`
	SupplierDocument string          `json:"supplier_document" binding:"required"`
	SupplierName     string          `json:"supplier_name" binding:"required"`
	SignedAt         time.Time       `json:"signed_at" binding:"required"`
	ValidFrom        time.Time       `json:"valid_from" binding:"required"`
	ValidUntil       time.Time       `json:"valid_until" binding:"required"`
	InitialValue     decimal.Decimal `json:"initial_value"`
	GlobalValue      decimal.Decimal `json:"global_value"`
	Notes            string          `json:"notes"`
}

// MapContract 合同报文，关联流程的平台控制号
func MapContract(p *procentity.Process, req *ContractRequest) *pncp.Contract {
	year := req.Year
	if year == 0 {
		year = req.SignedAt.Year()
	}
	typeID := req.TypeID
	if typeID == 0 {
		typeID = pncp.ContractContrato
	}
	object := req.Object
	if object == "" {
		object = p.Object
	}
	doc := pncp.DigitsOnly(req.SupplierDocument)
	personType := "PJ"
	if len(doc) == 11 {
		personType = "PF"
	}
	global := req.GlobalValue
	if global.IsZero() {
		global = req.InitialValue
	}
	return &pncp.Contract{
		AnoContrato:               year,
		NumeroContratoEmpenho:     req.Number,
		TipoContratoID:            typeID,
		ObjetoContrato:            object,
		NiFornecedor:              doc,
		TipoPessoa:                personType,
		NomeRazaoSocialFornecedor: req.SupplierName,
		DataAssinatura:            req.SignedAt.Format(dateLayout),
		DataVigenciaInicio:        req.ValidFrom.Format(dateLayout),
		DataVigenciaFim:           req.ValidUntil.Format(dateLayout),
		ValorInicial:              req.InitialValue.InexactFloat64(),
		ValorGlobal:               global.InexactFloat64(),
		NumeroControlePNCPCompra:  p.RegistryControlNumber,
		InformacaoComplementar:    req.Notes,
	}
}

// MapPlanLine 计划行 -> 平台PCA行
func MapPlanLine(l *planentity.PlanLine) pncp.PlanItem {
	unit := l.Unit
	if unit == "" {
		unit = "UN"
	}
	requesting := l.RequestingUnit
	if requesting == "" {
		requesting = "Unidade Principal"
	}
	priority := l.Priority
	if priority <= 0 {
		priority = 3
	}
	return pncp.PlanItem{
		NumeroItem:          l.Number,
		CategoriaItemPca:    pncp.PlanCategoryCode(l.Category),
		CatalogoItemPca:     l.CatalogCode,
		Descricao:           l.Description,
		UnidadeRequisitante: requesting,
		UnidadeMedida:       unit,
		QuantidadeEstimada:  l.Quantity.InexactFloat64(),
		ValorUnitario:       l.UnitEstimated.InexactFloat64(),
		ValorEstimado:       l.EstimatedValue.InexactFloat64(),
		DataDesejada:        formatTime(l.DesiredDate, dateLayout),
		GrauPrioridade:      priority,
		RenovacaoContrato:   l.Renewable,
	}
}

// MapPlan 年度计划 -> 平台PCA，取消的行不报送
func MapPlan(plan *planentity.AnnualPlan, s Settings, now time.Time) *pncp.Plan {
	out := &pncp.Plan{
		AnoPca:         plan.Year,
		CodigoUnidade:  s.UnitCode,
		DataPublicacao: now.Format(dateLayout),
		Itens:          make([]pncp.PlanItem, 0, len(plan.Lines)),
	}
	if plan.PublishedAt != nil {
		out.DataPublicacao = plan.PublishedAt.Format(dateLayout)
	}
	for i := range plan.Lines {
		if plan.Lines[i].Status == planentity.LineStatusCancelled {
			continue
		}
		out.Itens = append(out.Itens, MapPlanLine(&plan.Lines[i]))
	}
	return out
}

// 编号为空时用流程序号
func purchaseNumber(p *procentity.Process) string {
	if p.NoticeNumber != "" {
		return p.NoticeNumber
	}
	return p.ProcessNumber
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
