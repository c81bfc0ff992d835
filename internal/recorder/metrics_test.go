package recorder

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })
	return reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestSessionCountersTrackLifecycle(t *testing.T) {
	reader := installManualReader(t)

	source := newFakeSource(loudSamples())
	tr := &stubTranscriber{result: transcribe.Result{Text: "hi", Provider: "mock"}}
	del := &stubDeliverer{}
	c := newTestController(source, tr, del, config.RecordingConfig{MaxDurationSec: 300}, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitState(t, c, StateIdle)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitState(t, c, StateIdle)

	if got := counterValue(t, reader, "murmur.recordings.started"); got != 2 {
		t.Fatalf("recordings started = %d, want 2", got)
	}
	if got := counterValue(t, reader, "murmur.recordings.completed"); got != 1 {
		t.Fatalf("recordings completed = %d, want 1", got)
	}
	if got := counterValue(t, reader, "murmur.recordings.cancelled"); got != 1 {
		t.Fatalf("recordings cancelled = %d, want 1", got)
	}
}
