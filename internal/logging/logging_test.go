package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	lvls  []string
}

func (s *recordingSink) Append(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lvls = append(s.lvls, level)
	s.lines = append(s.lines, message)
}

func (s *recordingSink) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lvls...), append([]string(nil), s.lines...)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "Done (1.2s)!", StripANSI("\x1b[32mDone\x1b[0m (1.2s)!"))
	assert.Equal(t, "plain", StripANSI("plain"))
	assert.Equal(t, "", StripANSI(""))
}

func TestFormatLine(t *testing.T) {
	ent := zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Time:    time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC),
		Message: "\x1b[31mlow memory\x1b[0m",
	}
	assert.Equal(t, "[13:04:05 WARN]: low memory", FormatLine(ent))

	ent.LoggerName = "backend"
	assert.Equal(t, "[13:04:05 WARN]: [backend] low memory", FormatLine(ent))
}

func TestNew_WritesConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Console: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Named("supervisor").Debug("connecting", zap.String("url", "ws://x"))
	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "supervisor")
	assert.Contains(t, out, "connecting")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	l, err := New(Options{File: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	l.Info("hello file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
}

func TestStream_AttachDetach(t *testing.T) {
	l, err := New(Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)
	defer l.Close()

	sink := &recordingSink{}
	l.Info("before attach")

	l.Stream.Attach(sink)
	l.Stream.Attach(sink)
	assert.True(t, l.Stream.Attached())
	l.Warn("\x1b[33mattached\x1b[0m")
	l.Debug("below level")

	l.Stream.Detach()
	l.Stream.Detach()
	assert.False(t, l.Stream.Attached())
	l.Info("after detach")

	lvls, lines := sink.snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lvls[0])
	assert.True(t, strings.HasSuffix(lines[0], " WARN]: attached"), lines[0])
}

func TestStream_ReentrantSinkDoesNotLoop(t *testing.T) {
	l, err := New(Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)
	defer l.Close()

	calls := 0
	l.Stream.Attach(LogSinkFunc(func(level, message string) {
		calls++
		l.Info("sink logging from inside Append")
	}))
	l.Info("trigger")
	assert.Equal(t, 1, calls)
}
