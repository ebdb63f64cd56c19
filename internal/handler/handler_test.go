package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/middleware"
	planrepo "github.com/valleteclab/portaldcp/internal/planning/repository"
	planservice "github.com/valleteclab/portaldcp/internal/planning/service"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	procrepo "github.com/valleteclab/portaldcp/internal/procurement/repository"
	procservice "github.com/valleteclab/portaldcp/internal/procurement/service"
	"github.com/valleteclab/portaldcp/internal/shared/apperr"
	"github.com/valleteclab/portaldcp/internal/shared/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestFailMapsErrorKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   float64
		reason string
	}{
		{"validation", apperr.Validation(apperr.CodeScheduleRequired, "dates missing"), http.StatusBadRequest, 40000, apperr.CodeScheduleRequired},
		{"not found", apperr.NotFound("process", "p1"), http.StatusNotFound, 40400, apperr.CodeNotFound},
		{"conflict", apperr.Conflict(apperr.CodeDuplicateNumber, "dup"), http.StatusConflict, 40900, apperr.CodeDuplicateNumber},
		{"external", apperr.External(apperr.CodeRegistryTransient, "registry down", errors.New("503")), http.StatusBadGateway, 50200, apperr.CodeRegistryTransient},
		{"internal", errors.New("boom"), http.StatusInternalServerError, 50000, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { Fail(c, tt.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, w.Code)
			}
			resp := testutil.ParseResponse(w)
			if resp["code"] != tt.code {
				t.Fatalf("expected code %v, got %v", tt.code, resp["code"])
			}
			data, _ := resp["data"].(map[string]interface{})
			if tt.reason != "" && data["reason"] != tt.reason {
				t.Fatalf("expected reason %s, got %v", tt.reason, data["reason"])
			}
		})
	}
}

func TestPaged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { Paged(c, []int{1, 2}, 2, 10, 25) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	pg := data["pagination"].(map[string]interface{})
	if pg["total_pages"] != float64(3) || pg["total"] != float64(25) {
		t.Fatalf("unexpected pagination %v", pg)
	}
}

func TestBindOptional(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		var req noteRequest
		if !bindOptional(c, &req) {
			return
		}
		c.String(http.StatusOK, req.Note)
	})

	tests := []struct {
		name   string
		body   string
		status int
		note   string
	}{
		{"no body", "", http.StatusOK, ""},
		{"note", `{"note":"edital revisado"}`, http.StatusOK, "edital revisado"},
		{"malformed", `{"note":`, http.StatusBadRequest, ""},
		{"wrong type", `{"note":42}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK && w.Body.String() != tt.note {
				t.Fatalf("expected note %q, got %q", tt.note, w.Body.String())
			}
		})
	}
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
}

func setupProcessRoutes(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	procSvcs := procservice.NewServices(procrepo.NewRepositories(db), db, zap.NewNop())
	ledger := planservice.NewLedgerService(planrepo.NewRepositories(db), procrepo.NewRepositories(db), db)
	procSvcs.SetPlanConsumer(ledger)

	processes := NewProcessHandler(procSvcs.Process, procSvcs.Sweeper)
	items := NewItemHandler(procSvcs.Item)
	ledgerH := NewLedgerHandler(ledger)

	api := testutil.AuthGroup(router, "/api/v1")
	api.GET("/processes/:id", processes.Get)
	api.POST("/processes", middleware.RequirePermission(middleware.PermProcessWrite), processes.Create)
	api.POST("/processes/:id/advance", processes.Advance)
	api.POST("/processes/:id/items", items.Create)
	api.POST("/plan-links/unlink", ledgerH.Unlink)
	api.GET("/plan-lines/:lineId/linkable", ledgerH.Validate)

	return &testEnv{db: db, router: router}
}

func TestProcessRoutes(t *testing.T) {
	env := setupProcessRoutes(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.router, "POST", "/api/v1/processes", map[string]interface{}{
		"process_number": "050/2025",
		"object":         "Aquisição de equipamentos de informática",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	id := data["id"].(string)
	if data["phase"] != string(phase.Planning) || data["org_id"] != "org-test" {
		t.Fatalf("unexpected process %v", data)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/processes", map[string]interface{}{
		"process_number": "050/2025",
		"object":         "Outro objeto qualquer",
	}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/processes/"+id+"/advance", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/processes/"+id+"/advance", "not an object", token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("advance with bad body: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/processes/missing", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", w.Code)
	}

	reader := testutil.GenerateTestToken("viewer", "Viewer", "v@test.gov.br", nil, []string{"process:read"})
	w = testutil.DoRequest(env.router, "POST", "/api/v1/processes", map[string]interface{}{"object": "Sem permissão de escrita"}, reader)
	if w.Code != http.StatusForbidden {
		t.Fatalf("no permission: expected 403, got %d", w.Code)
	}
}

func TestItemInheritsPlanConsumption(t *testing.T) {
	env := setupProcessRoutes(t)
	token := testutil.DefaultTestToken()

	_, line := testutil.SeedPlanLine(t, env.db, "org-test", 2025, decimal.NewFromInt(1000))
	p := testutil.SeedProcess(t, env.db, "051/2025", phase.Planning)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/processes/"+p.ID+"/items", map[string]interface{}{
		"description":    "Notebook",
		"unit":           "UN",
		"quantity":       "2",
		"unit_estimated": "300",
		"plan_line_id":   line.ID,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/plan-lines/"+line.ID+"/linkable?amount=500", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected insufficient balance after consumption, got %d: %s", w.Code, w.Body.String())
	}
	reason := testutil.ParseResponse(w)["data"].(map[string]interface{})["reason"]
	if reason != apperr.CodeInsufficientBalance {
		t.Fatalf("expected %s, got %v", apperr.CodeInsufficientBalance, reason)
	}
}

func TestUnlinkRoute(t *testing.T) {
	env := setupProcessRoutes(t)
	token := testutil.DefaultTestToken()
	p := testutil.SeedProcess(t, env.db, "052/2025", phase.Planning)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/plan-links/unlink", map[string]interface{}{
		"target_type":   "process",
		"target_id":     p.ID,
		"justification": "curta",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short justification: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/plan-links/unlink", map[string]interface{}{
		"target_type":   "process",
		"target_id":     p.ID,
		"justification": strings.Repeat("Contratação sem previsão no plano anual. ", 2),
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("unlink: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
