// Package dispatch routes inbound backend events to their handlers.
//
// Handlers are registered once at startup into a table keyed by event name.
// Registration validates every row, so a typo in an event name or a broken
// payload schema fails Enable instead of silently dropping traffic later.
//
// Routing:
//   - unknown events are ignored
//   - HostThread handlers are queued onto the host tick loop
//   - WorkerThread handlers run on their own goroutine
//
// A request handler (one with a ResponseEvent) always produces exactly one
// response echoing the request_id, whether it succeeds, errors, panics or is
// rejected by its payload schema.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/metrics"
	"github.com/trybeacon/bridge/internal/protocol"
)

// Sender transmits an outbound message. It returns false when the message
// was dropped because no connection is open.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Scheduler runs closures on the host thread.
type Scheduler interface {
	RunOnHostThread(fn func())
}

// Dispatcher owns the handler table.
type Dispatcher struct {
	host    Scheduler
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]*Handler

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates an empty dispatcher.
func New(host Scheduler, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		host:     host,
		sender:   sender,
		logger:   zap.NewNop(),
		handlers: make(map[string]*Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")
	return d
}

// Register adds a handler. Duplicate events and invalid rows are rejected.
func (d *Dispatcher) Register(h Handler) error {
	if err := h.compile(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.handlers[h.Event]; dup {
		return fmt.Errorf("handler for %s already registered", h.Event)
	}
	d.handlers[h.Event] = &h
	return nil
}

// RegisterAll registers every handler, stopping at the first error.
func (d *Dispatcher) RegisterAll(handlers ...Handler) error {
	for _, h := range handlers {
		if err := d.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Events lists the registered event names.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	events := make([]string, 0, len(d.handlers))
	for ev := range d.handlers {
		events = append(events, ev)
	}
	return events
}

// Run dispatches frames until ctx is cancelled or frames is closed, then
// waits for in-flight worker handlers.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan []byte) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			d.Dispatch(ctx, frame)
		}
	}
}

// Dispatch decodes one frame and routes it. It never blocks on the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) {
	env, ok := protocol.Decode(frame)
	if !ok {
		d.metrics.FrameDropped("malformed")
		d.logger.Debug("dropping malformed frame", zap.Int("bytes", len(frame)))
		return
	}
	d.metrics.FrameIn(env.Event)

	d.mu.RLock()
	h, ok := d.handlers[env.Event]
	d.mu.RUnlock()
	if !ok {
		d.metrics.FrameDropped("unknown_event")
		d.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
		return
	}

	switch h.Affinity {
	case HostThread:
		d.host.RunOnHostThread(func() { d.invoke(ctx, h, env) })
	case WorkerThread:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.invoke(ctx, h, env)
		}()
	}
}

// Wait blocks until every worker handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, h *Handler, env protocol.Envelope) {
	start := time.Now()
	payload, err := d.call(ctx, h, env)
	d.metrics.HandlerTook(env.Event, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		d.logger.Warn("handler failed",
			zap.String("event", env.Event),
			zap.String("request_id", env.RequestID),
			zap.String("code", code),
			zap.String("message", msg),
			zap.Error(err))
	}
	if !h.IsRequest() {
		return
	}
	if err != nil {
		payload = h.Fail(env, err)
	}
	d.sender.Send(protocol.NewResponse(h.ResponseEvent, env.RequestID, payload))
}

func (d *Dispatcher) call(ctx context.Context, h *Handler, env protocol.Envelope) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", zap.String("event", env.Event), zap.Any("panic", r), zap.Stack("stack"))
			payload = nil
			err = apperrors.HandlerFailed(env.Event, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := validate(h, env); err != nil {
		return nil, err
	}
	return h.Handle(ctx, env)
}

func validate(h *Handler, env protocol.Envelope) error {
	if h.schema == nil {
		return nil
	}
	doc := env.Payload
	if len(doc) == 0 {
		doc = []byte("null")
	}
	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return apperrors.InvalidPayload(fmt.Sprintf("payload is not valid JSON: %v", err))
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return apperrors.InvalidPayload("invalid payload: " + strings.Join(details, "; "))
}
