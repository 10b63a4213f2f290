// Package observe wires OpenTelemetry metrics and tracing for parley.
//
// Instruments are created from a [metric.MeterProvider] by [NewMetrics]. The
// Prometheus exporter bridge installed by [InitProvider] makes them scrapeable
// through [Serve]. A nil *Metrics is valid and records nothing, so components
// can take one unconditionally.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/parley"

// Metrics holds the conversation-pipeline instruments.
type Metrics struct {
	// FramesSent counts capture frames written to the live channel.
	FramesSent metric.Int64Counter
	// FramesDropped counts capture frames evicted from the outbound queue.
	FramesDropped metric.Int64Counter
	// Turns counts completed turns. Attribute: "empty" (true/false).
	Turns metric.Int64Counter
	// PlaybackItems counts finished playback items. Attributes: "kind", "status".
	PlaybackItems metric.Int64Counter
	// DecodeErrors counts inbound payloads that could not be decoded.
	DecodeErrors metric.Int64Counter
	// Sessions counts ended sessions. Attribute: "state".
	Sessions metric.Int64Counter
	// ActiveSessions is 1 while a session holds audio resources.
	ActiveSessions metric.Int64UpDownCounter
	// PlaybackDuration tracks rendered audio length per item.
	PlaybackDuration metric.Float64Histogram
	// ResponseDuration tracks completion latency. Attributes: "route", "status".
	ResponseDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("parley.capture.frames_sent",
		metric.WithDescription("Capture frames sent to the live channel."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.capture.frames_dropped",
		metric.WithDescription("Capture frames dropped because the outbound queue was full."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("parley.playback.items",
		metric.WithDescription("Playback items by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("parley.playback.decode_errors",
		metric.WithDescription("Inbound audio payloads dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("parley.sessions",
		metric.WithDescription("Ended sessions by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Sessions currently holding audio resources."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("parley.playback.duration",
		metric.WithDescription("Length of rendered playback items."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("parley.assistant.response.duration",
		metric.WithDescription("Latency of assistant completions by route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordFrameSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesSent.Add(ctx, 1)
}

func (m *Metrics) RecordFramesDropped(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n)
}

func (m *Metrics) RecordTurn(ctx context.Context, empty bool) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("empty", empty)))
}

// RecordPlayback counts one finished item and, when it played, its audio length.
func (m *Metrics) RecordPlayback(ctx context.Context, kind string, played time.Duration, err error) {
	if m == nil {
		return
	}
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status(err)),
	))
	if err == nil && played > 0 {
		m.PlaybackDuration.Record(ctx, played.Seconds())
	}
}

func (m *Metrics) RecordDecodeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeErrors.Add(ctx, 1)
}

// SessionStarted marks a session as active; SessionEnded must follow.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) RecordResponse(ctx context.Context, route string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResponseDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", status(err)),
	))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
