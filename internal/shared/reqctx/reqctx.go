// Package reqctx 在请求上下文中携带请求ID和当前操作人，服务层据此打日志
package reqctx

import (
	"context"

	"go.uber.org/zap"
)

// AdminRole 拥有全部权限
const AdminRole = "portal_admin"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	principalKey
)

// Principal 当前操作人，来自JWT
type Principal struct {
	UserID      string
	Name        string
	Email       string
	OrgID       string
	Roles       []string
	Permissions []string
}

// IsAdmin 是否管理员
func (p *Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// Can 管理员和通配权限放行
func (p *Principal) Can(perm string) bool {
	if p.IsAdmin() {
		return true
	}
	for _, have := range p.Permissions {
		if have == perm || have == "*" {
			return true
		}
	}
	return false
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 没有时返回空串
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// Fields 请求ID和操作人，附加到服务层日志
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if p, ok := PrincipalFrom(ctx); ok {
		fields = append(fields, zap.String("user_id", p.UserID), zap.String("org_id", p.OrgID))
	}
	return fields
}

// Logger 带上请求字段的子logger
func Logger(ctx context.Context, l *zap.Logger) *zap.Logger {
	if fields := Fields(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}
