package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valleteclab/portaldcp/internal/shared/reqctx"
)

// AdminRole 拥有全部权限
const AdminRole = reqctx.AdminRole

// 权限
const (
	PermProcessWrite   = "process:write"
	PermPlanWrite      = "plan:write"
	PermDemandReview   = "demand:review"
	PermRegistrySubmit = "registry:submit"
	PermRegistryAdmin  = "registry:admin"
)

const principalKey = "principal"

// Claims 门户签发的token：uid和org必填，列表和新建都按org隔离
type Claims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	OrgID       string   `json:"org"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() *reqctx.Principal {
	return &reqctx.Principal{
		UserID:      c.UserID,
		Name:        c.Name,
		Email:       c.Email,
		OrgID:       c.OrgID,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// JWTAuth 校验HS256 token，把操作人放进gin和请求上下文
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			deny(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &Claims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			deny(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if claims.UserID == "" || claims.OrgID == "" {
			deny(c, http.StatusUnauthorized, 40103, "Token has no user or organization")
			return
		}

		p := claims.principal()
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(reqctx.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CurrentPrincipal JWTAuth之后可用
func CurrentPrincipal(c *gin.Context) (*reqctx.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*reqctx.Principal)
	return p, ok
}

// RequirePermission 任一权限满足即可
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			deny(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}
		for _, perm := range perms {
			if p.Can(perm) {
				c.Next()
				return
			}
		}
		deny(c, http.StatusForbidden, 40302, "Permission denied: "+strings.Join(perms, " or "))
	}
}

func deny(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
