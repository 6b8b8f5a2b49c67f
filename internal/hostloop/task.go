package hostloop

import "sync/atomic"

// Task is a scheduled unit of host work. Cancel is idempotent and may be
// called from any goroutine, including from inside the task itself.
type Task struct {
	fn        func()
	period    int64
	next      int64
	cancelled atomic.Bool
}

// Cancel stops future runs. Safe to call more than once and on a nil task.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

func (t *Task) cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether the task will run again. A nil task counts as
// cancelled.
func (t *Task) Cancelled() bool {
	if t == nil {
		return true
	}
	return t.cancelled.Load()
}
