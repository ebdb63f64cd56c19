package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/valleteclab/portaldcp/internal/shared/reqctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/p", func(c *gin.Context) {
		c.String(http.StatusOK, reqctx.RequestID(c.Request.Context()))
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"caller id kept", "abc-123", true},
		{"generated when missing", "", false},
		{"regenerated when too long", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			if got == "" || got != w.Body.String() {
				t.Fatalf("header %q and context %q must match", got, w.Body.String())
			}
			if tt.keep && got != tt.incoming {
				t.Fatalf("expected %q, got %q", tt.incoming, got)
			}
			if !tt.keep && got == tt.incoming {
				t.Fatalf("expected a fresh id")
			}
		})
	}
}

func TestAccessLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core), "/health/live"))
	r.GET("/health/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/processes/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/health/live", "/processes/p-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(HeaderRequestID, "req-9")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected only the non-skipped request to be logged, got %d", len(entries))
	}
	e := entries[0]
	fields := e.ContextMap()
	if e.Level != zap.WarnLevel || fields["route"] != "/processes/:id" || fields["request_id"] != "req-9" {
		t.Fatalf("unexpected entry %s %v", e.Level, fields)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"open", nil, "https://a.example", "*", false},
		{"listed", []string{"https://portal.example/"}, "https://portal.example", "https://portal.example", true},
		{"not listed", []string{"https://portal.example"}, "https://evil.example", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.origins))
			r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodOptions, "/p", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Fatalf("preflight: expected 204, got %d", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("allow origin: expected %q, got %q", tt.wantOrigin, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.credentials {
				t.Fatalf("credentials: expected %v, got %v", tt.credentials, got)
			}
		})
	}
}
