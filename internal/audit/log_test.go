package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer obs.SetLogger(zap.New(core))()

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{
		User: auth.User{ID: "user-42"},
		Role: &auth.Role{Name: "Administrator"},
	})

	if err := LogEvent(ctx, "user.login", map[string]any{"strategy": "local"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["event"] != "user.login" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["principal_id"] != "user-42" {
		t.Fatalf("unexpected principal id: %v", fields["principal_id"])
	}
	if fields["role"] != "Administrator" {
		t.Fatalf("unexpected role: %v", fields["role"])
	}
	if fields["strategy"] != "local" {
		t.Fatalf("missing custom field: %v", fields)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer obs.SetLogger(zap.New(core))()

	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
	if logs.Len() != 0 {
		t.Fatalf("nothing should be logged, got %d", logs.Len())
	}
}
