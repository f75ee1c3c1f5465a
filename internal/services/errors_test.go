package services_test

import (
	"context"
	"errors"
	"testing"

	"conveyor/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "engine", "start execution", "bad name", nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("wrapped error does not match marker: %v", err)
	}
	if errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("wrapped error matched the wrong marker: %v", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := services.Wrap(services.ErrTransient, "store", "update", "write failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "scheduler", "submit", "unexpected", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("nil marker should default to transient: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{services.Wrap(services.ErrValidation, "a", "b", "c", nil), false},
		{services.Wrap(services.ErrConfiguration, "a", "b", "c", nil), false},
		{services.Wrap(services.ErrTimeout, "a", "b", "c", nil), true},
		{services.Wrap(services.ErrTransient, "a", "b", "c", nil), true},
		{errors.New("plain"), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{services.Wrap(services.ErrTimeout, "a", "b", "c", context.DeadlineExceeded), false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %t, want %t", tc.err, got, tc.want)
		}
	}
}

func TestMessageStripsSentinel(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "store", "get execution", "no such row", nil)
	got := services.Message(err)
	want := "store: get execution: no such row"
	if got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
	if services.Message(nil) != "" {
		t.Fatal("Message(nil) should be empty")
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()

	if _, ok := services.ExecutionIDFromContext(ctx); ok {
		t.Fatal("unexpected execution id on empty context")
	}

	ctx = services.WithExecutionID(ctx, "exec-1")
	ctx = services.WithWorkItem(ctx, "batch-001")
	ctx = services.WithStage(ctx, "gpu")
	ctx = services.WithRequestID(ctx, "req-9")

	if v, ok := services.ExecutionIDFromContext(ctx); !ok || v != "exec-1" {
		t.Fatalf("execution id = %q, %t", v, ok)
	}
	if v, ok := services.WorkItemFromContext(ctx); !ok || v != "batch-001" {
		t.Fatalf("work item = %q, %t", v, ok)
	}
	if v, ok := services.StageFromContext(ctx); !ok || v != "gpu" {
		t.Fatalf("stage = %q, %t", v, ok)
	}
	if v, ok := services.RequestIDFromContext(ctx); !ok || v != "req-9" {
		t.Fatalf("request id = %q, %t", v, ok)
	}
}

func TestEmptyAnnotationsAreIgnored(t *testing.T) {
	ctx := services.WithExecutionID(context.Background(), "")
	if _, ok := services.ExecutionIDFromContext(ctx); ok {
		t.Fatal("empty execution id should not annotate context")
	}
}
