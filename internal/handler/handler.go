package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/valleteclab/portaldcp/internal/middleware"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

// Handlers 处理器集合
type Handlers struct {
	Process     *ProcessHandler
	Lot         *LotHandler
	Item        *ItemHandler
	Plan        *PlanHandler
	Demand      *DemandHandler
	Ledger      *LedgerHandler
	Publication *PublicationHandler
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Paged 分页列表响应
func Paged(c *gin.Context, items interface{}, page, pageSize int, total int64) {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	Success(c, ListResponse{
		Items:      items,
		Pagination: &Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages},
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// Fail 按错误类别输出；业务错误码放在data.reason
func Fail(c *gin.Context, err error) {
	FailWith(c, err, nil)
}

// FailWith 同Fail，附带额外数据（如检查报告）
func FailWith(c *gin.Context, err error, detail interface{}) {
	_ = c.Error(err)

	code := 50000
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		code = 40000
	case apperr.KindNotFound:
		code = 40400
	case apperr.KindConflict:
		code = 40900
	case apperr.KindExternal:
		code = 50200
	}

	data := gin.H{}
	if reason := apperr.CodeOf(err); reason != "" {
		data["reason"] = reason
	}
	if detail != nil {
		data["detail"] = detail
	}

	c.JSON(code/100, Response{
		Code:    code,
		Message: err.Error(),
		Data:    data,
	})
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	if p, ok := middleware.CurrentPrincipal(c); ok {
		return p.UserID
	}
	return ""
}

// GetOrgID 从上下文获取机构ID
func GetOrgID(c *gin.Context) string {
	if p, ok := middleware.CurrentPrincipal(c); ok {
		return p.OrgID
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// queryFilters 取出指定的查询参数，空值忽略
func queryFilters(c *gin.Context, keys ...string) map[string]string {
	filters := make(map[string]string)
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			filters[k] = v
		}
	}
	return filters
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// bindOptional 请求体可以省略，有内容但无法解析时返回400
func bindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}
