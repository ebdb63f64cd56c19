package pncp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL 训练环境
const DefaultBaseURL = "https://treina.pncp.gov.br/api/pncp/v1"

// ErrAuthentication 登录失败
var ErrAuthentication = errors.New("pncp authentication failed")

// Config 客户端配置
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
	TokenTTL time.Duration
}

// Client PNCP API客户端
// 所有请求共享同一个Session，401时作废token并重试一次
type Client struct {
	baseURL    string
	login      string
	password   string
	httpClient *http.Client
	session    *Session
	logger     *zap.Logger
}

// NewClient 创建客户端，cache可为nil
func NewClient(cfg Config, cache TokenCache) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		login:      cfg.Login,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	c.session = NewSession(c.Login, cfg.TokenTTL, cache)
	return c
}

// SetLogger 设置日志
func (c *Client) SetLogger(l *zap.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Session 当前会话
func (c *Client) Session() *Session {
	return c.session
}

// BaseURL 平台地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Configured 是否配置了账号
func (c *Client) Configured() bool {
	return c.login != "" && c.password != ""
}

// Login 登录，token在响应头Authorization或响应体token字段中
func (c *Client) Login(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", &APIError{StatusCode: http.StatusUnauthorized, Message: "pncp credentials are not configured"}
	}
	body, _ := json.Marshal(map[string]string{"login": c.login, "senha": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/usuarios/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pncp login: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: orStatus(ExtractMessage(respBody), resp.StatusCode), Body: respBody}
	}

	token := strings.TrimSpace(strings.TrimPrefix(resp.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		var result struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(respBody, &result); err == nil {
			token = result.Token
		}
	}
	c.logger.Info("pncp login succeeded")
	return token, nil
}

// Authenticate 强制重新登录，返回新token的过期时间
func (c *Client) Authenticate(ctx context.Context) (time.Time, error) {
	if _, err := c.session.Refresh(ctx); err != nil {
		return time.Time{}, err
	}
	return c.session.ExpiresAt(), nil
}

// CreatePurchase 发布采购：multipart，compra为JSON，documento为必需附件
func (c *Client) CreatePurchase(ctx context.Context, cnpj string, p *Purchase, doc *Attachment) (*Receipt, error) {
	if doc == nil || len(doc.Content) == 0 {
		return nil, errors.New("a purchase submission requires the notice document")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal purchase: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="compra"`)
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	if err := writeFile(w, "documento", doc); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Titulo-Documento":  doc.Title,
		"Tipo-Documento-Id": strconv.Itoa(doc.TypeID),
	}
	var receipt Receipt
	if err := c.doRaw(ctx, http.MethodPost, "/orgaos/"+DigitsOnly(cnpj)+"/compras", w.FormDataContentType(), buf.Bytes(), headers, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpdatePurchase 整体更新采购
func (c *Client) UpdatePurchase(ctx context.Context, id Identifier, p *Purchase) error {
	return c.doJSON(ctx, http.MethodPut, purchasePath(id), p, nil)
}

// GetPurchase 查询已有记录，不存在返回false
func (c *Client) GetPurchase(ctx context.Context, id Identifier) (*Purchase, bool, error) {
	var p Purchase
	err := c.doJSON(ctx, http.MethodGet, purchasePath(id), nil, &p)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// AddItems 批量新增行项
func (c *Client) AddItems(ctx context.Context, id Identifier, items []Item) error {
	return c.doJSON(ctx, http.MethodPost, purchasePath(id)+"/itens", items, nil)
}

// PatchItem 单个行项更新（批量更新不会带上预算保密标志）
func (c *Client) PatchItem(ctx context.Context, id Identifier, item *Item) error {
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("%s/itens/%d", purchasePath(id), item.NumeroItem), item, nil)
}

// SubmitResult 行项结果
func (c *Client) SubmitResult(ctx context.Context, id Identifier, itemNumber int, r *Result) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/itens/%d/resultados", purchasePath(id), itemNumber), r, nil)
}

// UploadDocument 上传采购文档
func (c *Client) UploadDocument(ctx context.Context, id Identifier, doc *Attachment) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFile(w, "arquivo", doc); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	headers := map[string]string{
		"Titulo-Documento":  doc.Title,
		"Tipo-Documento-Id": strconv.Itoa(doc.TypeID),
	}
	return c.doRaw(ctx, http.MethodPost, purchasePath(id)+"/arquivos", w.FormDataContentType(), buf.Bytes(), headers, nil)
}

// SubmitContract 合同
func (c *Client) SubmitContract(ctx context.Context, cnpj string, ct *Contract) (*Receipt, error) {
	var receipt Receipt
	if err := c.doJSON(ctx, http.MethodPost, "/orgaos/"+DigitsOnly(cnpj)+"/contratos", ct, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SubmitPlan 年度计划
func (c *Client) SubmitPlan(ctx context.Context, cnpj string, p *Plan) (*Receipt, error) {
	var receipt Receipt
	if err := c.doJSON(ctx, http.MethodPost, "/orgaos/"+DigitsOnly(cnpj)+"/pca", p, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SubmitPlanLine 年度计划追加行
func (c *Client) SubmitPlanLine(ctx context.Context, cnpj string, id Identifier, item *PlanItem) (*Receipt, error) {
	var receipt Receipt
	path := fmt.Sprintf("/orgaos/%s/pca/%d/%d/itens", DigitsOnly(cnpj), id.Year, id.Sequence)
	if err := c.doJSON(ctx, http.MethodPost, path, item, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DeletePlan 删除年度计划
func (c *Client) DeletePlan(ctx context.Context, cnpj string, id Identifier, justification string) error {
	path := fmt.Sprintf("/orgaos/%s/pca/%d/%d", DigitsOnly(cnpj), id.Year, id.Sequence)
	return c.doJSON(ctx, http.MethodDelete, path, map[string]string{"justificativa": justification}, nil)
}

func purchasePath(id Identifier) string {
	return fmt.Sprintf("/orgaos/%s/compras/%d/%d", DigitsOnly(id.CNPJ), id.Year, id.Sequence)
}

func writeFile(w *multipart.Writer, field string, doc *Attachment) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, doc.FileName))
	mime := doc.MimeType
	if mime == "" {
		mime = "application/pdf"
	}
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	_, err = part.Write(doc.Content)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.doRaw(ctx, method, path, "application/json", payload, nil, result)
}

// doRaw 带token执行请求；401时作废token并重试一次
func (c *Client) doRaw(ctx context.Context, method, path, contentType string, payload []byte, headers map[string]string, result interface{}) error {
	err := c.send(ctx, method, path, contentType, payload, headers, result)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !errors.Is(err, ErrAuthentication) {
		c.session.Invalidate(ctx)
		err = c.send(ctx, method, path, contentType, payload, headers, result)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, contentType string, payload []byte, headers map[string]string, result interface{}) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: orStatus(ExtractMessage(respBody), resp.StatusCode), Body: respBody}
		c.logger.Warn("pncp request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	fillReceiptFromLocation(resp, result)
	return nil
}

// 平台有时只在Location头返回 .../compras/{ano}/{sequencial}
func fillReceiptFromLocation(resp *http.Response, result interface{}) {
	r, ok := result.(*Receipt)
	if !ok || r.Sequencial > 0 {
		return
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return
	}
	parts := strings.Split(strings.TrimRight(loc, "/"), "/")
	if len(parts) < 2 {
		return
	}
	seq, err1 := strconv.Atoi(parts[len(parts)-1])
	year, err2 := strconv.Atoi(parts[len(parts)-2])
	if err1 == nil && err2 == nil {
		r.Ano, r.Sequencial = year, seq
		if r.Link == "" {
			r.Link = loc
		}
	}
}

func orStatus(msg string, status int) string {
	if msg != "" {
		return msg
	}
	return http.StatusText(status)
}
