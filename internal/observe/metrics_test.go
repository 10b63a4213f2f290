package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCaptureCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx)
	m.RecordFrameSent(ctx)
	m.RecordFramesDropped(ctx, 3)
	m.RecordFramesDropped(ctx, 0)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "parley.capture.frames_sent"); got != 2 {
		t.Fatalf("frames_sent = %d; want 2", got)
	}
	if got := sumValue(t, rm, "parley.capture.frames_dropped"); got != 3 {
		t.Fatalf("frames_dropped = %d; want 3", got)
	}
}

func TestSessionLifecycleCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.RecordTurn(ctx, false)
	m.RecordTurn(ctx, true)
	m.SessionEnded(ctx, "closed")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "parley.active_sessions"); got != 0 {
		t.Fatalf("active_sessions = %d; want 0", got)
	}
	if got := sumValue(t, rm, "parley.sessions"); got != 1 {
		t.Fatalf("sessions = %d; want 1", got)
	}
	if got := sumValue(t, rm, "parley.turns"); got != 2 {
		t.Fatalf("turns = %d; want 2", got)
	}
}

func TestPlaybackRecordsDurationOnlyOnSuccess(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, "audio", time.Second, nil)
	m.RecordPlayback(ctx, "text", 0, errors.New("tts failed"))
	m.RecordDecodeError(ctx)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "parley.playback.items"); got != 2 {
		t.Fatalf("playback.items = %d; want 2", got)
	}
	if got := sumValue(t, rm, "parley.playback.decode_errors"); got != 1 {
		t.Fatalf("decode_errors = %d; want 1", got)
	}

	hist := findMetric(rm, "parley.playback.duration")
	if hist == nil {
		t.Fatal("playback.duration not found")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	if count != 1 {
		t.Fatalf("playback.duration count = %d; want 1", count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordFrameSent(ctx)
	m.RecordFramesDropped(ctx, 1)
	m.RecordTurn(ctx, true)
	m.RecordPlayback(ctx, "audio", time.Second, nil)
	m.RecordDecodeError(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx, "closed")
	m.RecordResponse(ctx, "default", time.Second, nil)
}

func TestServeDisabledWithoutAddress(t *testing.T) {
	if err := Serve(context.Background(), "", nil); err != nil {
		t.Fatalf("Serve(\"\") = %v; want nil", err)
	}
}

func TestServeRejectsBadAddress(t *testing.T) {
	if err := Serve(context.Background(), "not-an-address", nil); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()
	_ = TraceID(ctx)
}
