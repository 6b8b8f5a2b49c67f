package backend

import "sync"

// DefaultTailLines is how many recent output lines Status reports.
const DefaultTailLines = 200

// RingBuffer keeps the most recent output lines of the backend. When full,
// each write overwrites the oldest line.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []string
	head  int // index of the next write
	size  int
}

// NewRingBuffer creates a buffer holding up to capacity lines.
// Non-positive capacities use DefaultTailLines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultTailLines
	}
	return &RingBuffer{lines: make([]string, capacity)}
}

// Write appends a line.
func (rb *RingBuffer) Write(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.lines[rb.head] = line
	rb.head = (rb.head + 1) % len(rb.lines)
	if rb.size < len(rb.lines) {
		rb.size++
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]string, rb.size)
	start := (rb.head - rb.size + len(rb.lines)) % len(rb.lines)
	for i := range out {
		out[i] = rb.lines[(start+i)%len(rb.lines)]
	}
	return out
}

// Size returns the number of buffered lines.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Reset drops every buffered line.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for i := range rb.lines {
		rb.lines[i] = ""
	}
	rb.head, rb.size = 0, 0
}
