package pncp

// 采购方式（modalidade de contratação）
const (
	ModalityLeilaoEletronico       = 1
	ModalityDialogoCompetitivo     = 2
	ModalityConcurso               = 3
	ModalityConcorrenciaEletronica = 4
	ModalityConcorrenciaPresencial = 5
	ModalityPregaoEletronico       = 6
	ModalityPregaoPresencial       = 7
	ModalityDispensa               = 8
	ModalityInexigibilidade        = 9
	ModalityLeilaoPresencial       = 10
	ModalityCredenciamento         = 12
	ModalityPreQualificacao        = 13
	ModalityManifestacaoInteresse  = 14
)

// 采购状态（situação da compra）
const (
	SituationDivulgada  = 1
	SituationRevogada   = 2
	SituationAnulada    = 3
	SituationSuspensa   = 4
	SituationDeserta    = 5
	SituationFracassada = 6
)

// 竞价模式（modo de disputa）
const (
	DisputeAberto        = 1
	DisputeFechado       = 2
	DisputeAbertoFechado = 3
	DisputeFechadoAberto = 4
	DisputeNaoSeAplica   = 5
)

// 文档类型
const (
	DocumentEdital           = 1
	DocumentTermoReferencia  = 2
	DocumentETP              = 3
	DocumentMinutaContrato   = 4
	DocumentAtaRegistroPreco = 5
	DocumentOutros           = 6
)

// 合同类型
const (
	ContractContrato          = 1
	ContractNotaEmpenho       = 2
	ContractOrdemServico      = 3
	ContractOrdemFornecimento = 4
	ContractCartaContrato     = 5
	ContractTermoAdesao       = 6
)

// 行项状态
const (
	ItemSituationAtivo      = 1
	ItemSituationCancelado  = 2
	ItemSituationDeserto    = 3
	ItemSituationFracassado = 4
)

// 评审标准
const (
	CriterionMenorPreco            = 1
	CriterionMaiorDesconto         = 2
	CriterionMelhorTecnica         = 3
	CriterionTecnicaPreco          = 4
	CriterionMaiorLance            = 5
	CriterionMaiorRetornoEconomico = 6
)

// 单据类型：编辑
const InstrumentEdital = 1

// 14.133/2021 法律依据默认值
const DefaultLegalBasis = 1

var modalityCodes = map[string]int{
	"PREGAO_ELETRONICO":       ModalityPregaoEletronico,
	"PREGAO_PRESENCIAL":       ModalityPregaoPresencial,
	"CONCORRENCIA":            ModalityConcorrenciaEletronica,
	"CONCORRENCIA_ELETRONICA": ModalityConcorrenciaEletronica,
	"CONCORRENCIA_PRESENCIAL": ModalityConcorrenciaPresencial,
	"DISPENSA":                ModalityDispensa,
	"DISPENSA_ELETRONICA":     ModalityDispensa,
	"INEXIGIBILIDADE":         ModalityInexigibilidade,
	"LEILAO":                  ModalityLeilaoEletronico,
	"CONCURSO":                ModalityConcurso,
	"DIALOGO_COMPETITIVO":     ModalityDialogoCompetitivo,
	"CREDENCIAMENTO":          ModalityCredenciamento,
}

// ModalityCode 内部采购方式到平台编码，未知返回false
func ModalityCode(modality string) (int, bool) {
	c, ok := modalityCodes[modality]
	return c, ok
}

var disputeCodes = map[string]int{
	"ABERTO":         DisputeAberto,
	"FECHADO":        DisputeFechado,
	"ABERTO_FECHADO": DisputeAbertoFechado,
	"FECHADO_ABERTO": DisputeFechadoAberto,
}

// DisputeCode 竞价模式编码，未知为"不适用"
func DisputeCode(mode string) int {
	if c, ok := disputeCodes[mode]; ok {
		return c
	}
	return DisputeNaoSeAplica
}

var criterionCodes = map[string]int{
	"MENOR_PRECO":             CriterionMenorPreco,
	"MAIOR_DESCONTO":          CriterionMaiorDesconto,
	"MELHOR_TECNICA":          CriterionMelhorTecnica,
	"TECNICA_E_PRECO":         CriterionTecnicaPreco,
	"MAIOR_LANCE":             CriterionMaiorLance,
	"MAIOR_RETORNO_ECONOMICO": CriterionMaiorRetornoEconomico,
}

// CriterionCode 评审标准编码，默认最低价
func CriterionCode(criterion string) int {
	if c, ok := criterionCodes[criterion]; ok {
		return c
	}
	return CriterionMenorPreco
}

var planCategoryCodes = map[string]int{
	"MATERIAL":           1,
	"SERVICO":            2,
	"OBRA":               3,
	"SERVICO_ENGENHARIA": 4,
	"SOLUCAO_TIC":        5,
	"LOCACAO_IMOVEL":     6,
	"ALIENACAO":          7,
}

// PlanCategoryCode PCA类别编码，默认物资
func PlanCategoryCode(category string) int {
	if c, ok := planCategoryCodes[category]; ok {
		return c
	}
	return 1
}
