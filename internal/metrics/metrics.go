// Package metrics holds the OpenTelemetry instruments the bridge records.
//
// Instruments come from the global meter provider. Unless the embedding host
// installs an SDK provider they are no-ops, so recording is always safe.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/trybeacon/bridge"

// Attribute keys.
var (
	ActionKey = attribute.Key("beacon.action")
	ResultKey = attribute.Key("beacon.result")
	EventKey  = attribute.Key("beacon.event")
	ReasonKey = attribute.Key("beacon.reason")
	StateKey  = attribute.Key("beacon.state")
)

// Metrics is the set of instruments. A nil *Metrics records nothing.
type Metrics struct {
	ConnectAttempts  metric.Int64Counter
	ConnectCallbacks metric.Int64Counter
	StateChanges     metric.Int64Counter
	FramesIn         metric.Int64Counter
	FramesDropped    metric.Int64Counter
	FramesOut        metric.Int64Counter
	FileOps          metric.Int64Counter
	BackendRestarts  metric.Int64Counter
	HandlerDuration  metric.Float64Histogram
}

// New creates the instruments from meter.
func New(meter metric.Meter) (*Metrics, error) {
	var err error
	m := &Metrics{}

	if m.ConnectAttempts, err = meter.Int64Counter("beacon.connection.attempts",
		metric.WithDescription("Backend connection attempts started"),
		metric.WithUnit("{attempts}"),
	); err != nil {
		return nil, err
	}
	if m.ConnectCallbacks, err = meter.Int64Counter("beacon.connection.callbacks",
		metric.WithDescription("Transport callbacks by outcome (accepted or stale)"),
		metric.WithUnit("{callbacks}"),
	); err != nil {
		return nil, err
	}
	if m.StateChanges, err = meter.Int64Counter("beacon.connection.state_changes",
		metric.WithDescription("Connection state transitions"),
		metric.WithUnit("{transitions}"),
	); err != nil {
		return nil, err
	}
	if m.FramesIn, err = meter.Int64Counter("beacon.protocol.frames_in",
		metric.WithDescription("Inbound frames decoded"),
		metric.WithUnit("{frames}"),
	); err != nil {
		return nil, err
	}
	if m.FramesDropped, err = meter.Int64Counter("beacon.protocol.frames_dropped",
		metric.WithDescription("Frames dropped (malformed, unknown, queue full, not connected)"),
		metric.WithUnit("{frames}"),
	); err != nil {
		return nil, err
	}
	if m.FramesOut, err = meter.Int64Counter("beacon.protocol.frames_out",
		metric.WithDescription("Outbound frames written"),
		metric.WithUnit("{frames}"),
	); err != nil {
		return nil, err
	}
	if m.FileOps, err = meter.Int64Counter("beacon.files.operations",
		metric.WithDescription("File manager actions by action and result"),
		metric.WithUnit("{operations}"),
	); err != nil {
		return nil, err
	}
	if m.BackendRestarts, err = meter.Int64Counter("beacon.backend.restarts",
		metric.WithDescription("Embedded backend restarts triggered by the reconnect timer"),
		metric.WithUnit("{restarts}"),
	); err != nil {
		return nil, err
	}
	if m.HandlerDuration, err = meter.Float64Histogram("beacon.protocol.handler_duration",
		metric.WithDescription("Event handler execution time"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// Default returns instruments from the global meter provider. If creation
// fails it returns nil, which records nothing.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := New(otel.Meter(meterName))
		if err == nil {
			defaultSet = m
		}
	})
	return defaultSet
}

func add(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ConnectAttempt records one connection attempt.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	add(m.ConnectAttempts)
}

// Callback records a transport callback; stale is true when it was discarded.
func (m *Metrics) Callback(kind string, stale bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if stale {
		result = "stale"
	}
	add(m.ConnectCallbacks, EventKey.String(kind), ResultKey.String(result))
}

// State records a transition into state.
func (m *Metrics) State(state string) {
	if m == nil {
		return
	}
	add(m.StateChanges, StateKey.String(state))
}

// FrameIn records a decoded inbound frame.
func (m *Metrics) FrameIn(event string) {
	if m == nil {
		return
	}
	add(m.FramesIn, EventKey.String(event))
}

// FrameDropped records a dropped frame with the reason.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	add(m.FramesDropped, ReasonKey.String(reason))
}

// FrameOut records a written frame.
func (m *Metrics) FrameOut(event string) {
	if m == nil {
		return
	}
	add(m.FramesOut, EventKey.String(event))
}

// FileOp records a file manager action.
func (m *Metrics) FileOp(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	add(m.FileOps, ActionKey.String(action), ResultKey.String(result))
}

// BackendRestart records a restart attempt and whether it succeeded.
func (m *Metrics) BackendRestart(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	add(m.BackendRestarts, ResultKey.String(result))
}

// HandlerTook records handler latency in milliseconds.
func (m *Metrics) HandlerTook(event string, ms float64) {
	if m == nil || m.HandlerDuration == nil {
		return
	}
	m.HandlerDuration.Record(context.Background(), ms, metric.WithAttributes(EventKey.String(event)))
}
