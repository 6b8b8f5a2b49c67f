// Package supervisor keeps the bridge connected to the backend.
//
// The supervisor tracks exactly one transport at a time. Connect is
// single-flight: while an attempt is in flight, or the tracked transport is
// open or closing, it does nothing. Transport callbacks are checked against
// the tracked transport, and callbacks from any other (stale) transport are
// dropped, so a late close from an old socket can never tear down a newer
// connection.
//
// Retries come only from the reconnect task, which runs on the host tick
// loop every five seconds while disconnected. Before dialing it makes sure
// the embedded backend is alive. A dead backend is restarted on a worker
// goroutine so the tick never waits on staging or spawning; the dial follows
// only if the restart worked.
//
// State machine:
//
//	Disconnected --Connect--> Connecting --OnOpen--> Connected
//	Connecting --OnError--> Disconnected (reconnect armed)
//	Connected --OnClose/OnError--> Disconnected (reconnect armed)
//	any --Shutdown--> ShuttingDown
package supervisor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/metrics"
	"github.com/trybeacon/bridge/internal/protocol"
)

// ReconnectTicks is the reconnect period: 5 s at 20 TPS.
const ReconnectTicks = 100

// DefaultInboundSize bounds the queue between the read pump and dispatcher.
const DefaultInboundSize = 256

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Sender transmits outbound messages while connected.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Dependent is started when a connection opens and stopped when it ends.
// Start and Stop are called without the supervisor lock held and may call
// Send.
type Dependent interface {
	Start(s Sender)
	Stop()
}

// Backend is the embedded backend process as seen by the reconnect task.
type Backend interface {
	IsRunning() bool
	Start() bool
}

// Scheduler schedules repeating host-thread work.
type Scheduler interface {
	Every(delay, period int64, fn func()) *hostloop.Task
}

// Options configures a Supervisor.
type Options struct {
	Endpoint string
	// Factory builds transports. Defaults to WebSocketFactory.
	Factory TransportFactory
	Loop    Scheduler
	// Backend, when set, is restarted by the reconnect task if it died.
	Backend        Backend
	Dependents     []Dependent
	ReconnectTicks int64
	InboundSize    int
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Supervisor is the connection state machine.
type Supervisor struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	inbound chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    Transport
	inFlight   bool
	shutdown   bool
	restarting bool
	state      State
	timer      *hostloop.Task

	// restarts tracks the backend restart goroutine so Shutdown can wait
	// for it before the caller stops the backend.
	restarts sync.WaitGroup

	// depMu serializes dependent start/stop; never taken while mu is held.
	depMu       sync.Mutex
	depsRunning bool
}

// New creates a disconnected supervisor. Call Connect to start.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Factory == nil {
		opts.Factory = WebSocketFactory(opts.Logger.Named("transport"))
	}
	if opts.ReconnectTicks <= 0 {
		opts.ReconnectTicks = ReconnectTicks
	}
	if opts.InboundSize <= 0 {
		opts.InboundSize = DefaultInboundSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger.Named("supervisor"),
		metrics: opts.Metrics,
		inbound: make(chan []byte, opts.InboundSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Frames is the inbound frame queue consumed by the dispatcher.
func (s *Supervisor) Frames() <-chan []byte {
	return s.inbound
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether the tracked transport is open.
func (s *Supervisor) IsOpen() bool {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	return t != nil && t.IsOpen()
}

func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.metrics.State(st.String())
}

// busy reports whether the tracked transport blocks a new attempt.
// Callers hold mu.
func (s *Supervisor) busy() bool {
	return s.inFlight || (s.current != nil && (s.current.IsOpen() || s.current.IsClosing()))
}

// Connect starts a connection attempt unless one is already in flight, the
// tracked transport is open or closing, or the supervisor is shutting down.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.shutdown || s.busy() {
		s.mu.Unlock()
		return
	}
	t, err := s.opts.Factory(s.opts.Endpoint, s)
	if err != nil {
		s.mu.Unlock()
		code, msg := apperrors.ToCodeAndMessage(err)
		s.logger.Error("cannot connect to backend", zap.String("code", code), zap.String("message", msg), zap.Error(err))
		return
	}
	s.current = t
	s.inFlight = true
	s.setState(Connecting)
	ctx := s.ctx
	s.mu.Unlock()

	s.metrics.ConnectAttempt()
	s.logger.Info("connecting to backend", zap.String("endpoint", s.opts.Endpoint))
	go func() {
		// The transport reports the outcome through OnOpen/OnError.
		_ = t.Open(ctx)
	}()
}

// accept applies the stale guard. Callers hold mu.
func (s *Supervisor) accept(kind string, t Transport) bool {
	ok := !s.shutdown && t == s.current
	s.metrics.Callback(kind, !ok)
	return ok
}

// OnOpen implements Listener.
func (s *Supervisor) OnOpen(t Transport) {
	s.mu.Lock()
	if !s.accept("open", t) {
		s.mu.Unlock()
		s.logger.Debug("closing stale transport")
		_ = t.Close()
		return
	}
	s.inFlight = false
	s.timer.Cancel()
	s.timer = nil
	s.setState(Connected)
	s.mu.Unlock()

	s.logger.Info("connected to backend", zap.String("endpoint", s.opts.Endpoint))
	s.stopDependents()
	s.startDependents(t)
}

// OnClose implements Listener.
func (s *Supervisor) OnClose(t Transport, reason string) {
	if s.lost(t, "close") {
		s.logger.Warn("disconnected from backend", zap.String("reason", reason))
	}
}

// OnError implements Listener.
func (s *Supervisor) OnError(t Transport, err error) {
	if s.lost(t, "error") {
		s.logger.Warn("backend connection error", zap.Error(err))
	}
}

func (s *Supervisor) lost(t Transport, kind string) bool {
	s.mu.Lock()
	if !s.accept(kind, t) {
		s.mu.Unlock()
		return false
	}
	s.inFlight = false
	s.setState(Disconnected)
	s.armReconnect()
	s.mu.Unlock()

	s.stopDependents()
	return true
}

// armReconnect schedules the reconnect task if it is not already armed.
// Callers hold mu.
func (s *Supervisor) armReconnect() {
	if s.shutdown || s.opts.Loop == nil || (s.timer != nil && !s.timer.Cancelled()) {
		return
	}
	s.timer = s.opts.Loop.Every(s.opts.ReconnectTicks, s.opts.ReconnectTicks, s.reconnectTick)
}

// reconnectTick runs on the host thread. It never blocks: a dead backend is
// restarted on a worker goroutine, which dials only if the restart worked.
func (s *Supervisor) reconnectTick() {
	if s.idle() {
		return
	}
	b := s.opts.Backend
	if b == nil || b.IsRunning() {
		s.Connect()
		return
	}

	s.mu.Lock()
	if s.shutdown || s.restarting {
		s.mu.Unlock()
		return
	}
	s.restarting = true
	s.restarts.Add(1)
	s.mu.Unlock()

	s.logger.Warn("backend is not running, restarting it")
	go s.restartBackend(b)
}

// idle reports whether the reconnect task has nothing to do: shutting down,
// restarting the backend, or already open.
func (s *Supervisor) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown || s.restarting || (s.current != nil && s.current.IsOpen())
}

func (s *Supervisor) restartBackend(b Backend) {
	defer s.restarts.Done()
	ok := b.Start()
	s.metrics.BackendRestart(ok)

	s.mu.Lock()
	s.restarting = false
	s.mu.Unlock()

	if !ok {
		s.logger.Error("backend restart failed, will retry")
		return
	}
	s.Connect()
}

// OnFrame implements Listener. Frames from stale transports are dropped.
// A full inbound queue blocks the read pump until the dispatcher catches up,
// so no request is lost without a response; shutdown releases it.
func (s *Supervisor) OnFrame(t Transport, frame []byte) {
	s.mu.Lock()
	current := !s.shutdown && t == s.current
	s.mu.Unlock()
	if !current {
		s.metrics.FrameDropped("stale")
		return
	}
	select {
	case s.inbound <- frame:
		return
	default:
	}
	s.logger.Debug("inbound queue full, waiting for the dispatcher", zap.Int("capacity", cap(s.inbound)))
	select {
	case s.inbound <- frame:
	case <-s.ctx.Done():
		s.metrics.FrameDropped("shutdown")
	}
}

// Send encodes and transmits msg if the connection is open. Otherwise the
// message is dropped; nothing is buffered.
func (s *Supervisor) Send(msg protocol.Message) bool {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t == nil || !t.IsOpen() {
		s.metrics.FrameDropped("not_open")
		return false
	}
	frame, err := msg.Encode()
	if err != nil {
		s.logger.Error("cannot encode message", zap.String("event", msg.Event), zap.Error(err))
		return false
	}
	if err := t.Send(frame); err != nil {
		// Debug only: the log stream forwards warnings back through Send.
		s.logger.Debug("send failed", zap.String("event", msg.Event), zap.Error(err))
		s.metrics.FrameDropped("write_failed")
		return false
	}
	s.metrics.FrameOut(msg.Event)
	return true
}

func (s *Supervisor) startDependents(t Transport) {
	s.depMu.Lock()
	defer s.depMu.Unlock()

	s.mu.Lock()
	still := !s.shutdown && t == s.current && s.state == Connected
	s.mu.Unlock()
	if !still || s.depsRunning {
		return
	}
	for _, d := range s.opts.Dependents {
		d.Start(s)
	}
	s.depsRunning = true
}

func (s *Supervisor) stopDependents() {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	if !s.depsRunning {
		return
	}
	for i := len(s.opts.Dependents) - 1; i >= 0; i-- {
		s.opts.Dependents[i].Stop()
	}
	s.depsRunning = false
}

// Shutdown stops reconnecting, stops dependents and closes the tracked
// transport. Idempotent.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.timer.Cancel()
	s.timer = nil
	t := s.current
	s.setState(ShuttingDown)
	s.mu.Unlock()

	s.cancel()
	s.restarts.Wait()
	s.stopDependents()
	if t != nil && (t.IsOpen() || t.IsClosing()) {
		_ = t.Close()
	}
	s.logger.Info("connection supervisor stopped")
}

var _ Listener = (*Supervisor)(nil)
