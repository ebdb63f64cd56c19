package pncp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

// APIError 平台返回的非2xx响应
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pncp status %d: %s", e.StatusCode, e.Message)
}

// ExtractMessage 从响应体中提取可读错误：message/mensagem，其次errors/erros数组，再次原始报文
func ExtractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return trimmed
	}

	for _, key := range []string{"message", "mensagem"} {
		if raw, ok := payload[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	for _, key := range []string{"errors", "erros"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		if msgs := flattenErrors(raw); len(msgs) > 0 {
			return strings.Join(msgs, ", ")
		}
	}
	return trimmed
}

// 数组元素可能是字符串，也可能是带message/mensagem的对象
func flattenErrors(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		var s string
		if json.Unmarshal(it, &s) == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj map[string]interface{}
		if json.Unmarshal(it, &obj) == nil {
			for _, key := range []string{"message", "mensagem", "defaultMessage"} {
				if v, ok := obj[key].(string); ok && v != "" {
					out = append(out, v)
					break
				}
			}
		}
	}
	return out
}

// Message 任意错误的单行描述：平台错误取提取后的消息，其余取错误文本
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown registry error"
}

// Classify 转换为带稳定编码的应用错误
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return apperr.External(apperr.CodeRegistryAuth, apiErr.Message, err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return apperr.External(apperr.CodeRegistryTransient, apiErr.Message, err)
		default:
			return apperr.External(apperr.CodeRegistryValidation, apiErr.Message, err)
		}
	}
	return apperr.External(apperr.CodeRegistryTransient, Message(err), err)
}

// Retryable 瞬时错误可重试
func Retryable(err error) bool {
	return apperr.CodeOf(Classify(err)) == apperr.CodeRegistryTransient
}
