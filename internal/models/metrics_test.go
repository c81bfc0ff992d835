package models

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })
	return reader
}

// downloadCount sums murmur.model.downloads datapoints with the given
// outcome attribute.
func downloadCount(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "murmur.model.downloads" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("murmur.model.downloads is %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				o, _ := dp.Attributes.Value(attribute.Key("outcome"))
				if o.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestDownloadCounterRecordsOutcomes(t *testing.T) {
	reader := installManualReader(t)

	payload := []byte("model bytes")
	sum := sha1.Sum(payload)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	withCatalog(t, []CatalogEntry{
		{ID: "tiny", URL: server.URL, SHA1: hex.EncodeToString(sum[:])},
		{ID: "base", URL: server.URL, SHA1: "0000000000000000000000000000000000000000"},
	})

	sink := newRecordingSink()
	m := newTestManager(t, sink)

	if err := m.StartDownload(context.Background(), "tiny"); err != nil {
		t.Fatalf("StartDownload tiny: %v", err)
	}
	if !sink.waitDone(t).Success {
		t.Fatal("tiny download should succeed")
	}

	if err := m.StartDownload(context.Background(), "base"); err != nil {
		t.Fatalf("StartDownload base: %v", err)
	}
	if sink.waitDone(t).Success {
		t.Fatal("base download should fail checksum verification")
	}

	if got := downloadCount(t, reader, "success"); got != 1 {
		t.Fatalf("success count = %d, want 1", got)
	}
	if got := downloadCount(t, reader, "failed"); got != 1 {
		t.Fatalf("failed count = %d, want 1", got)
	}
}
