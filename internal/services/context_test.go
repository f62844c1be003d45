package services_test

import (
	"context"
	"testing"

	"harmonix/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithInvocationID(ctx, "inv-123")
	ctx = services.WithOperation(ctx, "convert")

	if id, ok := services.InvocationIDFromContext(ctx); !ok || id != "inv-123" {
		t.Fatalf("unexpected invocation id: %v %v", id, ok)
	}
	if op, ok := services.OperationFromContext(ctx); !ok || op != "convert" {
		t.Fatalf("unexpected operation: %v %v", op, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithInvocationID(ctx, "")
	ctx = services.WithOperation(ctx, "")
	if _, ok := services.InvocationIDFromContext(ctx); ok {
		t.Fatal("expected no invocation id")
	}
	if _, ok := services.OperationFromContext(ctx); ok {
		t.Fatal("expected no operation")
	}
}
