package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of no-op provider failed: %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	if span == nil {
		t.Error("expected non-nil span")
	}
	span.End()
}

func TestRecordError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	RecordError(ctx, errors.New("test error"))
}

func TestTraceHTTPRequest(t *testing.T) {
	_, span := TraceHTTPRequest(context.Background(), "GET", "/rooms")
	if span == nil {
		t.Error("expected non-nil span")
	}
	span.End()
}

func TestTraceRelayMessage(t *testing.T) {
	_, span := TraceRelayMessage(context.Background(), "signal", "participant-123")
	if span == nil {
		t.Error("expected non-nil span")
	}
	span.End()
}
