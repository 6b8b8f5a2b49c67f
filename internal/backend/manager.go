// Package backend stages, runs and supervises the embedded backend binary.
//
// The bridge ships one backend build per platform. Start copies the right
// one into {dataDir}/backend/, runs it with --port, and forwards every line
// it prints into the host log. Stop asks it to exit and kills it if it has
// not done so within the grace period.
package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// DefaultStopGrace is how long Stop waits after the graceful signal.
const DefaultStopGrace = 3 * time.Second

// pumpDrainTimeout bounds how long a reaped process may keep its output pipe
// open through grandchildren.
const pumpDrainTimeout = time.Second

// Options configures a Manager.
type Options struct {
	// DataDir receives the staged binary under backend/.
	DataDir string
	// Bundle holds the per-platform binaries. BundleDir is used when nil.
	Bundle    fs.FS
	BundleDir string
	// Port is passed to the backend as --port.
	Port int
	// UsePTY captures output through a pseudo-terminal (unix only).
	UsePTY bool
	// Platform overrides the detected platform.
	Platform  *Platform
	StopGrace time.Duration
	TailLines int
	Logger    *zap.Logger
}

// Status is a point-in-time view of the backend process.
type Status struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Binary    string    `json:"binary,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Output    []string  `json:"output"`
}

// process is the handle of one spawned backend.
type process struct {
	cmd       *exec.Cmd
	binary    string
	startedAt time.Time
	done      chan struct{} // closed once the process is reaped and output drained
	exitCode  int
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Manager owns the backend process. All methods are safe for concurrent use.
type Manager struct {
	opts   Options
	logger *zap.Logger
	output *RingBuffer

	mu   sync.Mutex
	proc *process
}

// NewManager creates a manager. Nothing is staged or started until Start.
func NewManager(opts Options) *Manager {
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Bundle == nil && opts.BundleDir != "" {
		opts.Bundle = os.DirFS(opts.BundleDir)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.Named("backend"),
		output: NewRingBuffer(opts.TailLines),
	}
}

// Start stages and spawns the backend. It returns true if the backend is
// running afterwards, including when it was already running. Failures are
// logged.
func (m *Manager) Start() bool {
	if err := m.start(); err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		m.logger.Error("failed to start backend", zap.String("code", code), zap.String("message", msg), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc != nil && !m.proc.exited() {
		return nil
	}

	platform, err := m.platform()
	if err != nil {
		return err
	}
	if m.opts.Bundle == nil {
		return apperrors.BinaryMissing(platform.BinaryName(), errors.New("no bundle configured"))
	}
	binary, err := Stage(m.opts.Bundle, m.opts.DataDir, platform)
	if err != nil {
		return err
	}

	cmd := exec.Command(binary, "--port", strconv.Itoa(m.opts.Port))
	cmd.Dir = filepath.Dir(binary)
	cmd.Env = os.Environ()
	setProcAttr(cmd)

	out, err := m.spawn(cmd)
	if err != nil {
		return apperrors.SpawnFailed(binary, err)
	}

	p := &process{
		cmd:       cmd,
		binary:    binary,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	m.proc = p
	m.output.Reset()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpLines(out, func(line string) {
			m.output.Write(line)
			m.logger.Info(line)
		})
	}()
	go m.wait(p, out, pumpDone)

	m.logger.Info("backend started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("binary", binary),
		zap.Int("port", m.opts.Port))
	return nil
}

func (m *Manager) platform() (Platform, error) {
	if m.opts.Platform != nil {
		return ResolvePlatform(m.opts.Platform.OS, m.opts.Platform.Arch)
	}
	return CurrentPlatform()
}

// spawn starts cmd and returns a reader over its combined output.
func (m *Manager) spawn(cmd *exec.Cmd) (io.ReadCloser, error) {
	if m.opts.UsePTY {
		return startWithPTY(cmd)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	w.Close()
	return r, nil
}

func (m *Manager) wait(p *process, out io.ReadCloser, pumpDone <-chan struct{}) {
	err := p.cmd.Wait()
	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	select {
	case <-pumpDone:
	case <-time.After(pumpDrainTimeout):
	}
	out.Close()
	<-pumpDone

	m.mu.Lock()
	p.exitCode = code
	m.mu.Unlock()
	close(p.done)

	fields := []zap.Field{zap.Int("pid", p.cmd.Process.Pid), zap.Int("exit_code", code)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	m.logger.Info("backend exited", fields...)
}

// IsRunning reports whether the backend process is alive. It never blocks
// and changes nothing.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc != nil && !m.proc.exited()
}

// Stop terminates the backend: graceful signal, up to StopGrace for it to
// exit, then a forced kill. It returns once the process is reaped. Safe to
// call with no process.
func (m *Manager) Stop() {
	m.mu.Lock()
	p := m.proc
	m.mu.Unlock()
	if p == nil || p.exited() {
		return
	}

	m.logger.Info("stopping backend", zap.Int("pid", p.cmd.Process.Pid))
	if err := terminate(p.cmd); err != nil {
		m.logger.Debug("graceful signal failed", zap.Error(err))
	}

	select {
	case <-p.done:
		return
	case <-time.After(m.opts.StopGrace):
	}

	m.logger.Warn("backend did not exit in time, killing", zap.Duration("grace", m.opts.StopGrace))
	if err := forceKill(p.cmd); err != nil {
		m.logger.Debug("forced kill failed", zap.Error(err))
	}
	<-p.done
}

// Status reports the current or last backend process.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Output: m.output.Lines()}
	if m.proc == nil {
		return st
	}
	st.PID = m.proc.cmd.Process.Pid
	st.Binary = m.proc.binary
	st.StartedAt = m.proc.startedAt
	if m.proc.exited() {
		code := m.proc.exitCode
		st.ExitCode = &code
	} else {
		st.Running = true
	}
	return st
}
