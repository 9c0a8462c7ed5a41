package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "text")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	logger := New("info", "json")
	if logger == nil {
		t.Fatal("New returned nil for json format")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("empty context should have no request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
}

func TestLoggerRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := New("info", "text")

	// Without a logger in context, FromContext falls back to default
	if got := FromContext(ctx); got != slog.Default() {
		t.Error("FromContext should return default logger for empty context")
	}

	ctx = WithLogger(ctx, logger)
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestLWithRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	ctx = WithRequestID(ctx, "req-456")

	// L should not panic and should return a non-nil logger
	if L(ctx) == nil {
		t.Fatal("L returned nil")
	}
}
