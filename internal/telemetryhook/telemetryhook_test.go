package telemetryhook

import (
	"context"
	"errors"
	"testing"
)

func TestNoOp_StartSpanReturnsUsableSpan(t *testing.T) {
	var tel Telemetry = NoOp{}
	ctx, span := tel.StartSpan(context.Background(), "op")
	if ctx == nil {
		t.Fatal("expected a non-nil context back")
	}
	span.SetAttribute("key", "value")
	span.SetError(errors.New("boom"))
	span.End()
}

func TestNoOp_RecordingsNeverPanic(t *testing.T) {
	var tel Telemetry = NoOp{}
	tel.RecordCounter(context.Background(), "events", 1, map[string]string{"k": "v"})
	tel.RecordDuration(context.Background(), "duration", 0.5, nil)
}

func TestOtelTelemetry_StartSpanAndEnd(t *testing.T) {
	tel := New("test-service")
	ctx, span := tel.StartSpan(context.Background(), "coordinator.analyze")
	if ctx == nil {
		t.Fatal("expected a non-nil context back")
	}
	span.SetAttribute("threat_type", "bot_traffic")
	span.SetError(nil)
	span.End()
}
