package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	if err != nil {
		t.Fatalf("Failed to setup telemetry: %v", err)
	}

	// Verify providers are set
	if otel.GetTracerProvider() == nil {
		t.Error("Tracer provider not set")
	}
	if otel.GetMeterProvider() == nil {
		t.Error("Meter provider not set")
	}

	// Test GetTracer/GetMeter
	tracer := GetTracer("test-tracer")
	if tracer == nil {
		t.Error("Failed to get tracer")
	}

	meter := GetMeter("test-meter")
	if meter == nil {
		t.Error("Failed to get meter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsHolderObservableState(t *testing.T) {
	holder := GetGlobalMetrics()

	holder.SetActiveOrders("FMFW", "ETHUSDT", 3)
	holder.SetMarketReady("FMFW", true)
	holder.SetMarketReady("BITRUE", false)

	active := holder.GetActiveOrders()
	if active[PairKey{Exchange: "FMFW", Pair: "ETHUSDT"}] != 3 {
		t.Errorf("expected 3 active orders, got %d", active[PairKey{Exchange: "FMFW", Pair: "ETHUSDT"}])
	}

	ready := holder.GetMarketReady()
	if ready["FMFW"] != 1 || ready["BITRUE"] != 0 {
		t.Errorf("unexpected readiness map: %v", ready)
	}
}
