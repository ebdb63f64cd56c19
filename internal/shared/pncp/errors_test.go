package pncp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/valleteclab/portaldcp/internal/shared/apperr"
)

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"CNPJ inválido","status":400}`, "CNPJ inválido"},
		{"mensagem field", `{"mensagem":"Compra não encontrada"}`, "Compra não encontrada"},
		{"errors array", `{"errors":["campo a","campo b"]}`, "campo a, campo b"},
		{"erros objects", `{"erros":[{"mensagem":"x obrigatório"},{"message":"y inválido"}]}`, "x obrigatório, y inválido"},
		{"raw json", `{"status":500,"path":"/compras"}`, `{"status":500,"path":"/compras"}`},
		{"plain text", "Bad Gateway", "Bad Gateway"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMessage([]byte(tt.body)); got != tt.want {
				t.Fatalf("ExtractMessage(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestMessageFallsBackToTransportError(t *testing.T) {
	err := fmt.Errorf("POST /compras: %w", errors.New("context deadline exceeded"))
	if got := Message(err); got != "POST /compras: context deadline exceeded" {
		t.Fatalf("unexpected message %q", got)
	}
	wrapped := fmt.Errorf("submit: %w", &APIError{StatusCode: 422, Message: "objeto obrigatório"})
	if got := Message(wrapped); got != "objeto obrigatório" {
		t.Fatalf("expected api message, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&APIError{StatusCode: http.StatusUnauthorized, Message: "token"}, apperr.CodeRegistryAuth},
		{&APIError{StatusCode: http.StatusUnprocessableEntity, Message: "bad"}, apperr.CodeRegistryValidation},
		{&APIError{StatusCode: http.StatusBadGateway, Message: "down"}, apperr.CodeRegistryTransient},
		{errors.New("connection refused"), apperr.CodeRegistryTransient},
	}
	for _, tt := range tests {
		got := Classify(tt.err)
		if apperr.KindOf(got) != apperr.KindExternal || apperr.CodeOf(got) != tt.code {
			t.Fatalf("Classify(%v) = %s/%s, want external/%s", tt.err, apperr.KindOf(got), apperr.CodeOf(got), tt.code)
		}
	}
	if !Retryable(errors.New("timeout")) || Retryable(&APIError{StatusCode: 400}) {
		t.Fatalf("unexpected retryable classification")
	}
}
