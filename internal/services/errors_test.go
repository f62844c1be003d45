package services_test

import (
	"errors"
	"strings"
	"testing"

	"harmonix/internal/history"
	"harmonix/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "backend", "spawn", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"backend", "spawn", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutDetail(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker default, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestFailureStatusMapping(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "host", "validate", "invalid", nil)
	if status := services.FailureStatus(validationErr); status != history.StatusRejected {
		t.Fatalf("expected rejected for validation error, got %s", status)
	}

	notFound := services.Wrap(services.ErrNotFound, "resolver", "worker", "missing", nil)
	if status := services.FailureStatus(notFound); status != history.StatusRejected {
		t.Fatalf("expected rejected for not found error, got %s", status)
	}

	toolErr := services.Wrap(services.ErrExternalTool, "backend", "wait", "exit 1", errors.New("io"))
	if status := services.FailureStatus(toolErr); status != history.StatusFailed {
		t.Fatalf("expected failed for external tool error, got %s", status)
	}

	if status := services.FailureStatus(nil); status != history.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}

func TestHintFollowsMarker(t *testing.T) {
	if hint := services.Hint(services.Wrap(services.ErrNotFound, "host", "resolve worker", "", nil)); !strings.Contains(hint, "resolve --candidates") {
		t.Fatalf("unexpected not-found hint %q", hint)
	}
	if hint := services.Hint(services.Wrap(services.ErrTimeout, "host", "run worker", "", nil)); !strings.Contains(hint, "timeout_seconds") {
		t.Fatalf("unexpected timeout hint %q", hint)
	}
	if hint := services.Hint(errors.New("plain")); hint != "" {
		t.Fatalf("expected no hint for unclassified error, got %q", hint)
	}
	if services.Hint(nil) != "" {
		t.Fatal("expected no hint for nil")
	}
}
