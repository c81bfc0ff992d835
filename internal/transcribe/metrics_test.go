package transcribe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })
	return reader
}

// outcomeCount sums murmur.transcriptions datapoints matching the provider
// and outcome attributes.
func outcomeCount(t *testing.T, reader *sdkmetric.ManualReader, provider, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "murmur.transcriptions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("murmur.transcriptions is %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value(attribute.Key("provider"))
				o, _ := dp.Attributes.Value(attribute.Key("outcome"))
				if p.AsString() == provider && o.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTranscriptionCounterRecordsOutcomes(t *testing.T) {
	reader := installManualReader(t)

	primary := &stubProvider{name: "local", available: true, result: Result{Text: "ok", Provider: "local"}}
	o := newTestOrchestrator(t, config.TranscriptionConfig{Provider: "local", TimeoutMS: 1000},
		map[string]Provider{"local": primary})

	if _, err := o.Transcribe(context.Background(), []float32{0}, 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := outcomeCount(t, reader, "local", "ok"); got != 1 {
		t.Fatalf("ok count = %d, want 1", got)
	}

	primary.result = Result{}
	primary.err = errors.New("backend crashed")
	if _, err := o.Transcribe(context.Background(), []float32{0}, 16000); err == nil {
		t.Fatal("expected provider failure")
	}
	if got := outcomeCount(t, reader, "local", "error"); got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
}
