package pncp

// PNCP 接口报文，字段名与平台保持一致

// OrgEntity 机构
type OrgEntity struct {
	CNPJ        string `json:"cnpj"`
	RazaoSocial string `json:"razaoSocial"`
}

// OrgUnit 采购单位
type OrgUnit struct {
	CodigoUnidade string `json:"codigoUnidade"`
	NomeUnidade   string `json:"nomeUnidade"`
}

// Purchase 采购（compra）
type Purchase struct {
	AnoCompra                   int       `json:"anoCompra"`
	CodigoUnidadeCompradora     string    `json:"codigoUnidadeCompradora,omitempty"`
	CodigoModalidadeContratacao int       `json:"codigoModalidadeContratacao"`
	CodigoModoDisputa           int       `json:"codigoModoDisputa"`
	CodigoSituacaoCompra        int       `json:"codigoSituacaoCompra"`
	TipoInstrumentoConvocatorio int       `json:"tipoInstrumentoConvocatorioId,omitempty"`
	AmparoLegalID               int       `json:"amparoLegalId,omitempty"`
	DataAberturaProposta        string    `json:"dataAberturaProposta,omitempty"`
	DataEncerramentoProposta    string    `json:"dataEncerramentoProposta,omitempty"`
	DataInclusao                string    `json:"dataInclusao"`
	InformacaoComplementar      string    `json:"informacaoComplementar,omitempty"`
	LinkSistemaOrigem           string    `json:"linkSistemaOrigem,omitempty"`
	NumeroCompra                string    `json:"numeroCompra"`
	NumeroProcesso              string    `json:"numeroProcesso"`
	ObjetoCompra                string    `json:"objetoCompra"`
	OrgaoEntidade               OrgEntity `json:"orgaoEntidade"`
	UnidadeOrgao                OrgUnit   `json:"unidadeOrgao"`
	SRP                         bool      `json:"srp"`
	ValorTotalEstimado          float64   `json:"valorTotalEstimado"`
	ItensCompra                 []Item    `json:"itensCompra,omitempty"`
}

// Item 采购行项
type Item struct {
	NumeroItem               int     `json:"numeroItem"`
	MaterialOuServico        string  `json:"materialOuServico"` // M / S
	TipoBeneficioID          int     `json:"tipoBeneficioId"`
	IncentivoProdutivoBasico bool    `json:"incentivoProdutivoBasico"`
	Descricao                string  `json:"descricao"`
	Quantidade               float64 `json:"quantidade"`
	UnidadeMedida            string  `json:"unidadeMedida"`
	ValorUnitarioEstimado    float64 `json:"valorUnitarioEstimado"`
	ValorTotal               float64 `json:"valorTotal"`
	SituacaoCompraItemID     int     `json:"situacaoCompraItemId"`
	CriterioJulgamentoID     int     `json:"criterioJulgamentoId"`
	CodigoItemCatalogo       string  `json:"codigoItemCatalogo,omitempty"`
	OrcamentoSigiloso        bool    `json:"orcamentoSigiloso"`
	Patrimonio               bool    `json:"patrimonio"`
}

// Result 行项结果
type Result struct {
	DataResultado             string  `json:"dataResultado"`
	NiFornecedor              string  `json:"niFornecedor"`
	TipoPessoa                string  `json:"tipoPessoa"` // PJ / PF
	NomeRazaoSocialFornecedor string  `json:"nomeRazaoSocialFornecedor"`
	QuantidadeHomologada      float64 `json:"quantidadeHomologada"`
	ValorUnitarioHomologado   float64 `json:"valorUnitarioHomologado"`
	ValorTotalHomologado      float64 `json:"valorTotalHomologado"`
	PercentualDesconto        float64 `json:"percentualDesconto,omitempty"`
	IndicadorSubcontratacao   bool    `json:"indicadorSubcontratacao"`
	CodigoPais                string  `json:"codigoPais,omitempty"`
	SituacaoID                int     `json:"situacaoCompraItemResultadoId,omitempty"`
}

// Contract 合同
type Contract struct {
	AnoContrato               int     `json:"anoContrato"`
	NumeroContratoEmpenho     string  `json:"numeroContratoEmpenho"`
	TipoContratoID            int     `json:"tipoContratoId"`
	ObjetoContrato            string  `json:"objetoContrato"`
	NiFornecedor              string  `json:"niFornecedor"`
	TipoPessoa                string  `json:"tipoPessoaFornecedor"`
	NomeRazaoSocialFornecedor string  `json:"nomeRazaoSocialFornecedor"`
	DataAssinatura            string  `json:"dataAssinatura"`
	DataVigenciaInicio        string  `json:"dataVigenciaInicio"`
	DataVigenciaFim           string  `json:"dataVigenciaFim"`
	ValorInicial              float64 `json:"valorInicial"`
	ValorGlobal               float64 `json:"valorGlobal"`
	NumeroControlePNCPCompra  string  `json:"numeroControlePNCPCompra,omitempty"`
	InformacaoComplementar    string  `json:"informacaoComplementar,omitempty"`
}

// PlanItem 年度计划(PCA)行
type PlanItem struct {
	NumeroItem          int     `json:"numeroItem,omitempty"`
	CategoriaItemPca    int     `json:"categoriaItemPca"`
	CatalogoItemPca     string  `json:"codigoItemCatalogo,omitempty"`
	Descricao           string  `json:"descricao"`
	UnidadeRequisitante string  `json:"unidadeRequisitante"`
	UnidadeMedida       string  `json:"unidadeMedida"`
	QuantidadeEstimada  float64 `json:"quantidadeEstimada"`
	ValorUnitario       float64 `json:"valorUnitario"`
	ValorEstimado       float64 `json:"valorTotal"`
	DataDesejada        string  `json:"dataDesejada,omitempty"`
	GrauPrioridade      int     `json:"grauPrioridade"`
	RenovacaoContrato   bool    `json:"renovacaoContrato"`
}

// Plan 年度计划(PCA)
type Plan struct {
	AnoPca         int        `json:"anoPca"`
	CodigoUnidade  string     `json:"codigoUnidade"`
	DataPublicacao string     `json:"dataPublicacao"`
	Itens          []PlanItem `json:"itens"`
}

// Receipt 平台回执
type Receipt struct {
	NumeroControlePNCP string `json:"numeroControlePNCP"`
	Ano                int    `json:"ano"`
	Sequencial         int    `json:"sequencial"`
	Link               string `json:"link,omitempty"`
}

// Attachment 上传附件
type Attachment struct {
	FileName string
	Title    string
	TypeID   int
	Content  []byte
	MimeType string
}
