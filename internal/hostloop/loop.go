// Package hostloop provides the cooperative single-threaded tick loop that
// owns all live host state.
//
// A game server advances its world in fixed ticks (20 per second). Anything
// that touches players, worlds or the command dispatcher must run inside a
// tick, never concurrently with it. Background goroutines therefore never call
// the host directly; they hand a closure to RunOnHostThread and the loop runs
// it at the next tick.
//
// Two kinds of work run inside a tick:
//   - scheduled tasks created with Every/After, checked in creation order
//   - queued closures from RunOnHostThread, drained once per tick
//
// Closures queued while the queue is being drained wait for the following tick,
// so a closure that re-queues itself cannot starve the loop.
package hostloop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TicksPerSecond is the nominal host tick rate.
const TicksPerSecond = 20

// TickInterval is the wall-clock length of one nominal tick.
const TickInterval = time.Second / TicksPerSecond

// Ticks converts a duration to a whole number of ticks, rounding down and
// never returning less than one.
func Ticks(d time.Duration) int64 {
	n := int64(d / TickInterval)
	if n < 1 {
		return 1
	}
	return n
}

// Loop is the host tick loop.
type Loop struct {
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	queue []func()
	tasks []*Task
	tick  int64

	// recent holds the wall time of the last ticks for TPS measurement.
	recent [TicksPerSecond + 1]time.Time
	nrec   int
	head   int
}

// New creates a loop ticking every interval. A zero interval uses TickInterval.
func New(interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = TickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{interval: interval, logger: logger.Named("hostloop")}
}

// RunOnHostThread queues fn for the next tick. It never blocks and is safe
// from any goroutine.
func (l *Loop) RunOnHostThread(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

// Call runs fn on the host thread and waits for it, or for ctx.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	l.RunOnHostThread(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every schedules fn to run on the host thread after delay ticks and then
// every period ticks until the returned task is cancelled.
func (l *Loop) Every(delay, period int64, fn func()) *Task {
	if period < 1 {
		period = 1
	}
	return l.schedule(delay, period, fn)
}

// After schedules fn to run once after delay ticks.
func (l *Loop) After(delay int64, fn func()) *Task {
	return l.schedule(delay, 0, fn)
}

func (l *Loop) schedule(delay, period int64, fn func()) *Task {
	if delay < 0 {
		delay = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := &Task{fn: fn, period: period, next: l.tick + delay}
	l.tasks = append(l.tasks, t)
	return t
}

// CurrentTick returns the number of completed ticks.
func (l *Loop) CurrentTick() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// Tick runs one tick: due tasks first, then the closures queued before the
// tick started. Hosts that own their own loop call this directly.
func (l *Loop) Tick() {
	l.mu.Lock()
	now := l.tick
	due := make([]*Task, 0, len(l.tasks))
	kept := l.tasks[:0]
	for _, t := range l.tasks {
		if t.Cancelled() {
			continue
		}
		if t.next <= now {
			due = append(due, t)
			if t.period == 0 {
				continue
			}
			t.next = now + t.period
		}
		kept = append(kept, t)
	}
	// Clear the tail so dropped tasks can be collected.
	for i := len(kept); i < len(l.tasks); i++ {
		l.tasks[i] = nil
	}
	l.tasks = kept

	queued := l.queue
	l.queue = nil

	l.recent[l.head] = time.Now()
	l.head = (l.head + 1) % len(l.recent)
	if l.nrec < len(l.recent) {
		l.nrec++
	}
	l.mu.Unlock()

	for _, t := range due {
		// A task cancelled by an earlier task in this same tick is skipped.
		if t.Cancelled() {
			continue
		}
		if t.period == 0 {
			t.cancel()
		}
		l.safeRun(t.fn)
	}
	for _, fn := range queued {
		l.safeRun(fn)
	}

	l.mu.Lock()
	l.tick++
	l.mu.Unlock()
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("host task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// TPS reports the measured tick rate over the last second of ticks, capped
// at the nominal rate.
func (l *Loop) TPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nrec < 2 {
		return TicksPerSecond
	}
	newest := l.recent[(l.head-1+len(l.recent))%len(l.recent)]
	oldest := l.recent[(l.head-l.nrec+len(l.recent))%len(l.recent)]
	elapsed := newest.Sub(oldest).Seconds()
	if elapsed <= 0 {
		return TicksPerSecond
	}
	tps := float64(l.nrec-1) / elapsed
	if tps > TicksPerSecond {
		tps = TicksPerSecond
	}
	return tps
}
