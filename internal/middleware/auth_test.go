package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valleteclab/portaldcp/internal/shared/reqctx"
)

const testSecret = "middleware-test-secret"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"uid": "user-1",
		"org": "org-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	s, err := jwt.NewWithClaims(method, base).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newRouter(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuth(testSecret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		// 服务层只看得到请求上下文
		p, ok := reqctx.PrincipalFrom(c.Request.Context())
		if !ok {
			c.String(http.StatusInternalServerError, "no principal")
			return
		}
		c.String(http.StatusOK, p.UserID+"@"+p.OrgID)
	})
	r.GET("/p", handlers...)
	return r
}

func do(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()
	key := []byte(testSecret)

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer garbage", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("other"), nil), http.StatusUnauthorized, ""},
		{"wrong algorithm", "Bearer " + signed(t, jwt.SigningMethodHS512, key, nil), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, key, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized, ""},
		{"no organization", "Bearer " + signed(t, jwt.SigningMethodHS256, key, jwt.MapClaims{"org": nil}), http.StatusUnauthorized, ""},
		{"no user", "Bearer " + signed(t, jwt.SigningMethodHS256, key, jwt.MapClaims{"uid": ""}), http.StatusUnauthorized, ""},
		{"valid", "Bearer " + signed(t, jwt.SigningMethodHS256, key, nil), http.StatusOK, "user-1@org-1"},
		{"lowercase scheme", "bearer " + signed(t, jwt.SigningMethodHS256, key, nil), http.StatusOK, "user-1@org-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.header)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, w.Code, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("expected body %q, got %q", tt.body, w.Body.String())
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	r := newRouter(RequirePermission(PermRegistrySubmit, PermRegistryAdmin))

	tests := []struct {
		name  string
		perms []string
		roles []string
		want  int
	}{
		{"granted", []string{PermRegistrySubmit}, nil, http.StatusOK},
		{"any of several", []string{PermRegistryAdmin}, nil, http.StatusOK},
		{"wildcard", []string{"*"}, nil, http.StatusOK},
		{"admin role", nil, []string{AdminRole}, http.StatusOK},
		{"other permission", []string{PermPlanWrite}, []string{"buyer"}, http.StatusForbidden},
		{"none", nil, nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"perms": tt.perms, "roles": tt.roles})
			if w := do(r, "Bearer "+token); w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequirePermissionWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", RequirePermission(PermPlanWrite), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without JWTAuth, got %d", w.Code)
	}
}
