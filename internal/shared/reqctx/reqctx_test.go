package reqctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrincipalCan(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		perm string
		want bool
	}{
		{"exact", Principal{Permissions: []string{"plan:write"}}, "plan:write", true},
		{"wildcard", Principal{Permissions: []string{"*"}}, "registry:admin", true},
		{"admin role", Principal{Roles: []string{AdminRole}}, "registry:admin", true},
		{"other", Principal{Permissions: []string{"plan:write"}}, "process:write", false},
		{"empty", Principal{}, "process:write", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Can(tt.perm); got != tt.want {
				t.Fatalf("Can(%q) = %v, want %v", tt.perm, got, tt.want)
			}
		})
	}
}

func TestLoggerCarriesRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPrincipal(ctx, &Principal{UserID: "user-1", OrgID: "org-1"})
	Logger(ctx, base).Info("published")
	Logger(context.Background(), base).Info("sweep")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["user_id"] != "user-1" || fields["org_id"] != "org-1" {
		t.Fatalf("missing request fields: %v", fields)
	}
	if len(entries[1].Context) != 0 {
		t.Fatalf("background context must add no fields, got %v", entries[1].ContextMap())
	}
}
