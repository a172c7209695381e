package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		wantErr bool
	}{
		{name: "prod", env: "prod"},
		{name: "local", env: "local"},
		{name: "docker with override", env: "docker", level: "warn"},
		{name: "unknown env", env: "staging", wantErr: true},
		{name: "bad level", env: "prod", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if l == nil {
				t.Fatal("nil logger")
			}
		})
	}
}

func TestFromContext_RoundTrip(t *testing.T) {
	l := zap.NewNop()
	ctx := ContextWithLogger(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Error("stored logger not returned")
	}
}

func TestFromContext_MissingReturnsNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Error("expected a usable no-op logger")
	}
}

func TestContextWithLogger_NilLeavesContext(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Error("nil logger must not modify the context")
	}
}
