package pncp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, Login: "user", Password: "secret", Timeout: 2 * time.Second}, nil)
	return c, srv
}

func TestLoginReadsAuthorizationHeader(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/usuarios/login" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["login"] != "user" || body["senha"] != "secret" {
			t.Fatalf("unexpected credentials %v", body)
		}
		w.Header().Set("Authorization", "Bearer abc123")
		w.WriteHeader(http.StatusOK)
	})
	token, err := c.Login(context.Background())
	if err != nil || token != "abc123" {
		t.Fatalf("expected abc123, got %q, %v", token, err)
	}
}

func TestCreatePurchaseMultipart(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/usuarios/login":
			w.Header().Set("Authorization", "Bearer tok")
		case "/orgaos/11222333000181/compras":
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Fatalf("missing bearer token")
			}
			if r.Header.Get("Tipo-Documento-Id") != "1" {
				t.Fatalf("missing document type header")
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			var p Purchase
			if err := json.Unmarshal([]byte(r.FormValue("compra")), &p); err != nil {
				t.Fatalf("decode compra: %v", err)
			}
			if p.NumeroProcesso != "001/2025" {
				t.Fatalf("unexpected process number %q", p.NumeroProcesso)
			}
			f, hdr, err := r.FormFile("documento")
			if err != nil {
				t.Fatalf("missing documento: %v", err)
			}
			data, _ := io.ReadAll(f)
			if hdr.Filename != "edital.pdf" || string(data) != "%PDF" {
				t.Fatalf("unexpected attachment %s %q", hdr.Filename, data)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"numeroControlePNCP":"11222333000181-1-000010/2025","ano":2025,"sequencial":10}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	receipt, err := c.CreatePurchase(context.Background(), "11.222.333/0001-81",
		&Purchase{NumeroProcesso: "001/2025", AnoCompra: 2025},
		&Attachment{FileName: "edital.pdf", Title: "Edital", TypeID: DocumentEdital, Content: []byte("%PDF")})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if receipt.Sequencial != 10 || receipt.Ano != 2025 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestCreatePurchaseRequiresDocument(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.CreatePurchase(context.Background(), "11222333000181", &Purchase{}, nil); err == nil {
		t.Fatalf("expected error without attachment")
	}
}

func TestRetriesOnceAfterUnauthorized(t *testing.T) {
	var logins, calls int32
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/usuarios/login" {
			n := atomic.AddInt32(&logins, 1)
			w.Header().Set("Authorization", "Bearer tok"+string(rune('0'+n)))
			return
		}
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") == "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"token expirado"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	id := Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 1}
	if err := c.UpdatePurchase(context.Background(), id, &Purchase{}); err != nil {
		t.Fatalf("update purchase: %v", err)
	}
	if logins != 2 || calls != 2 {
		t.Fatalf("expected 2 logins and 2 calls, got %d and %d", logins, calls)
	}
}

func TestAPIErrorCarriesExtractedMessage(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/usuarios/login" {
			w.Header().Set("Authorization", "Bearer tok")
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"erros":["quantidade deve ser positiva"]}`))
	})
	id := Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 1}
	err := c.PatchItem(context.Background(), id, &Item{NumeroItem: 3})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "quantidade deve ser positiva" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestGetPurchaseNotFound(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/usuarios/login" {
			w.Header().Set("Authorization", "Bearer tok")
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/compras/2025/99") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	_, found, err := c.GetPurchase(context.Background(), Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 99})
	if err != nil || found {
		t.Fatalf("expected not found without error, got %v, %v", found, err)
	}
}

func TestLoginFailureIsNotRetried(t *testing.T) {
	var logins int32
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/usuarios/login" {
			atomic.AddInt32(&logins, 1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		t.Fatalf("no call should reach %s", r.URL.Path)
	})
	err := c.AddItems(context.Background(), Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 1}, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected a single login attempt, got %d", logins)
	}
}
