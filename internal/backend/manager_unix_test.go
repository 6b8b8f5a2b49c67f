//go:build !windows

package backend

import (
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptManager bundles script as the backend binary for this platform.
func scriptManager(t *testing.T, script string, grace time.Duration) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p, err := CurrentPlatform()
	if err != nil {
		t.Skipf("no backend build for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	core, logs := observer.New(zap.InfoLevel)
	m := NewManager(Options{
		DataDir:   t.TempDir(),
		Bundle:    fstest.MapFS{p.BinaryName(): {Data: []byte("#!/bin/sh\n" + script)}},
		Port:      9123,
		StopGrace: grace,
		Logger:    zap.New(core),
	})
	t.Cleanup(m.Stop)
	return m, logs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func TestManager_RunsWithPortAndPumpsOutput(t *testing.T) {
	m, logs := scriptManager(t, `echo "listening $1 $2"; echo "oops" >&2; exec sleep 30`, time.Second)

	require.True(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.True(t, m.Start(), "start while running is a no-op success")

	waitFor(t, func() bool { return len(m.Status().Output) == 2 })
	assert.Equal(t, []string{"listening --port 9123", "oops"}, m.Status().Output)

	lines := logs.FilterMessage("listening --port 9123").All()
	require.Len(t, lines, 1)
	assert.Equal(t, "backend", lines[0].LoggerName)

	st := m.Status()
	assert.True(t, st.Running)
	assert.NotZero(t, st.PID)
	assert.Nil(t, st.ExitCode)

	start := time.Now()
	m.Stop()
	assert.Less(t, time.Since(start), time.Second, "sleep exits on SIGTERM")
	assert.False(t, m.IsRunning())
	m.Stop()
}

func TestManager_ForcedKillAfterGrace(t *testing.T) {
	m, logs := scriptManager(t, `trap '' TERM; echo ready; while :; do sleep 0.05; done`, 200*time.Millisecond)

	require.True(t, m.Start())
	waitFor(t, func() bool { return len(m.Status().Output) == 1 })

	start := time.Now()
	m.Stop()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, logs.FilterMessage("backend did not exit in time, killing").Len())
}

func TestManager_DetectsExit(t *testing.T) {
	m, _ := scriptManager(t, `echo bye; exit 3`, time.Second)

	require.True(t, m.Start())
	waitFor(t, func() bool { return !m.IsRunning() })

	st := m.Status()
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 3, *st.ExitCode)
	assert.Equal(t, []string{"bye"}, st.Output)

	// A dead backend can be started again.
	require.True(t, m.Start())
	p, _ := CurrentPlatform()
	assert.True(t, strings.HasSuffix(m.Status().Binary, p.BinaryName()))
}
