package logging

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// LogSink receives formatted log lines. Append must not block; the console
// stream calls it inline from whatever goroutine logged.
type LogSink interface {
	Append(level, message string)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(level, message string)

// Append implements LogSink.
func (f LogSinkFunc) Append(level, message string) { f(level, message) }

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// StripANSI removes terminal escape sequences so the panel shows plain text.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// FormatLine renders an entry the way the panel console expects:
// "[HH:MM:SS LEVEL]: message".
func FormatLine(ent zapcore.Entry) string {
	msg := StripANSI(ent.Message)
	if ent.LoggerName != "" {
		msg = "[" + ent.LoggerName + "] " + msg
	}
	return fmt.Sprintf("[%s %s]: %s", ent.Time.Format("15:04:05"), ent.Level.CapitalString(), msg)
}

type sinkHolder struct {
	sink LogSink
}

// StreamCore is a zapcore.Core that forwards entries to an attached LogSink.
// With no sink attached it is a no-op. Attach and Detach may be called any
// number of times from any goroutine.
type StreamCore struct {
	zapcore.LevelEnabler
	holder *atomic.Pointer[sinkHolder]
	// forwarding guards against a sink whose own logging would re-enter.
	forwarding *atomic.Bool
}

// NewStreamCore creates a detached stream core.
func NewStreamCore(enab zapcore.LevelEnabler) *StreamCore {
	return &StreamCore{
		LevelEnabler: enab,
		holder:       &atomic.Pointer[sinkHolder]{},
		forwarding:   &atomic.Bool{},
	}
}

// Attach starts forwarding to sink, replacing any previous sink.
func (c *StreamCore) Attach(sink LogSink) {
	if sink == nil {
		c.Detach()
		return
	}
	c.holder.Store(&sinkHolder{sink: sink})
}

// Detach stops forwarding.
func (c *StreamCore) Detach() {
	c.holder.Store(nil)
}

// Attached reports whether a sink is attached.
func (c *StreamCore) Attached() bool {
	return c.holder.Load() != nil
}

// With implements zapcore.Core. Fields are not forwarded, only messages, so
// the clone shares the sink.
func (c *StreamCore) With([]zapcore.Field) zapcore.Core {
	return c
}

// Check implements zapcore.Core.
func (c *StreamCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && c.holder.Load() != nil {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements zapcore.Core.
func (c *StreamCore) Write(ent zapcore.Entry, _ []zapcore.Field) error {
	h := c.holder.Load()
	if h == nil {
		return nil
	}
	if !c.forwarding.CompareAndSwap(false, true) {
		return nil
	}
	defer c.forwarding.Store(false)
	h.sink.Append(ent.Level.CapitalString(), FormatLine(ent))
	return nil
}

// Sync implements zapcore.Core.
func (c *StreamCore) Sync() error { return nil }
