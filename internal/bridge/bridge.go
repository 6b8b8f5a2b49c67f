// Package bridge assembles the supervisory bridge: it owns the lifetime of
// the embedded backend process, the backend connection, the event
// dispatcher and the periodic publishers.
//
// Enable and Disable mirror a plugin's enable/disable hooks. Everything the
// bridge needs comes in through Options; there are no package-level
// singletons, so several bridges (one per test) can coexist.
package bridge

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/trybeacon/bridge/internal/auth"
	"github.com/trybeacon/bridge/internal/backend"
	"github.com/trybeacon/bridge/internal/config"
	"github.com/trybeacon/bridge/internal/dispatch"
	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/files"
	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/logging"
	"github.com/trybeacon/bridge/internal/metrics"
	"github.com/trybeacon/bridge/internal/permissions"
	"github.com/trybeacon/bridge/internal/storage"
	"github.com/trybeacon/bridge/internal/supervisor"
	"github.com/trybeacon/bridge/internal/telemetry"
)

// DatabaseFile is the default storage file inside the data directory.
const DatabaseFile = "beacon.db"

// BundleDir is the default directory of bundled backend binaries.
const BundleDir = "bundle"

// Options configures a Bridge.
type Options struct {
	Config *config.Config
	// ConfigPath is watched for changes when set.
	ConfigPath string
	Host       host.Host
	Loop       *hostloop.Loop
	Logger     *zap.Logger
	// Stream mirrors host log lines to the backend. Optional.
	Stream *logging.StreamCore
	// Level is adjusted when a reloaded config changes log.level. Optional.
	Level   *zap.AtomicLevel
	Metrics *metrics.Metrics
	// Bundle overrides the on-disk bundle directory.
	Bundle fs.FS
	// Version is the bridge version reported in server_env.
	Version string
	// Factory overrides the websocket transport.
	Factory supervisor.TransportFactory
}

// Bridge is one enabled instance.
type Bridge struct {
	opts   Options
	logger *zap.Logger
	cfg    atomic.Pointer[config.Config]

	mu         sync.Mutex
	enabled    bool
	cancel     context.CancelFunc
	runDone    chan struct{}
	store      *storage.SQLiteStore
	backend    *backend.Manager
	supervisor *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	watcher    *config.Watcher
	perms      *permissions.Bridge
	issuer     *auth.Issuer
	limiter    *rate.Limiter
}

// New validates opts and returns a disabled bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Host == nil || opts.Loop == nil {
		return nil, apperrors.Internal("bridge needs a host and a loop", nil)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	opts.Config.Normalize()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Bridge{opts: opts, logger: opts.Logger.Named("bridge")}
	b.cfg.Store(opts.Config)
	return b, nil
}

// Config returns the active configuration.
func (b *Bridge) Config() *config.Config {
	return b.cfg.Load()
}

func (b *Bridge) dataPath(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.opts.Host.Layout().DataDir, p)
}

// Enable starts every component. A backend that fails to start aborts Enable
// and leaves the bridge disabled.
func (b *Bridge) Enable(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		return nil
	}
	cfg := b.Config()
	layout := b.opts.Host.Layout()
	if err := os.MkdirAll(layout.DataDir, 0o755); err != nil {
		return apperrors.IOFailed("create data directory", err)
	}

	store, err := storage.NewSQLiteStore(b.dataPath(cfg.Storage.Path, DatabaseFile), b.opts.Logger)
	if err != nil {
		return err
	}
	if n, err := store.PurgeExpiredPanelTokens(ctx, time.Now()); err != nil {
		b.logger.Warn("purge expired panel tokens", zap.Error(err))
	} else if n > 0 {
		b.logger.Debug("purged expired panel tokens", zap.Int64("count", n))
	}

	var provider permissions.Provider
	if p, err := permissions.NewCasbinProvider(policyPath(b, cfg)); err != nil {
		// Permission features degrade to "not granted" rather than failing.
		b.logger.Warn("permission provider unavailable", zap.Error(err))
	} else {
		b.applyRoles(p, cfg.Permissions.Roles)
		provider = p
	}
	perms := permissions.NewBridge(provider, b.opts.Host.PlayerHas, b.opts.Logger)

	var mgr *backend.Manager
	if cfg.Backend.Embedded {
		mgr = backend.NewManager(backend.Options{
			DataDir:   layout.DataDir,
			Bundle:    b.opts.Bundle,
			BundleDir: b.dataPath(cfg.Backend.BundleDir, BundleDir),
			Port:      cfg.ListenPort(),
			UsePTY:    cfg.Backend.UsePTY,
			Logger:    b.opts.Logger,
		})
		if !mgr.Start() {
			store.Close()
			return apperrors.New(apperrors.CodeProcessSpawnFailed, "embedded backend failed to start")
		}
	}

	dependents := []supervisor.Dependent{
		telemetry.NewPublisher(b.opts.Host, b.opts.Loop, b.opts.Version, b.opts.Logger),
	}
	if b.opts.Stream != nil {
		dependents = append(dependents, telemetry.NewConsoleStream(b.opts.Stream))
	}
	supOpts := supervisor.Options{
		Endpoint:   cfg.Backend.WebSocketURL,
		Factory:    b.opts.Factory,
		Loop:       b.opts.Loop,
		Dependents: dependents,
		Logger:     b.opts.Logger,
		Metrics:    b.opts.Metrics,
	}
	if mgr != nil {
		supOpts.Backend = mgr
	}
	sup := supervisor.New(supOpts)

	limiter := rate.NewLimiter(rate.Limit(cfg.Console.CommandsPerSecond), cfg.Console.Burst)
	svc := files.NewService(
		func() (string, error) { return b.opts.Host.Layout().ServerRoot, nil },
		files.WithReadCap(cfg.Files.ReadCapBytes),
		files.WithAuditor(store),
		files.WithLogger(b.opts.Logger),
		files.WithMetrics(b.opts.Metrics),
	)
	h := &handlers{host: b.opts.Host, files: svc, perms: perms, limiter: limiter}
	disp := dispatch.New(b.opts.Loop, sup, dispatch.WithLogger(b.opts.Logger), dispatch.WithMetrics(b.opts.Metrics))
	if err := disp.RegisterAll(h.table()...); err != nil {
		sup.Shutdown()
		if mgr != nil {
			mgr.Stop()
		}
		store.Close()
		return apperrors.Internal("invalid dispatch table", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		disp.Run(runCtx, sup.Frames())
	}()

	if b.opts.ConfigPath != "" {
		w, err := config.NewWatcher(b.opts.ConfigPath, b.reload, b.opts.Logger)
		if err != nil {
			b.logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			b.watcher = w
			go w.Run(runCtx)
		}
	}

	b.store = store
	b.backend = mgr
	b.supervisor = sup
	b.dispatcher = disp
	b.perms = perms
	b.limiter = limiter
	b.cancel = cancel
	b.runDone = runDone
	b.issuer = auth.NewIssuer(auth.Options{
		Ledger:      store,
		Sender:      sup,
		Permissions: perms,
		Expiry:      func() time.Duration { return b.Config().TokenExpiry() },
		Link:        func(token string) string { return b.Config().PanelLink(token) },
		Logger:      b.opts.Logger,
	})
	b.enabled = true

	sup.Connect()
	b.logger.Info("bridge enabled",
		zap.String("endpoint", cfg.Backend.WebSocketURL),
		zap.Bool("embedded_backend", mgr != nil),
		zap.Strings("events", disp.Events()))
	return nil
}

// applyRoles installs the configured roles. A bad role is logged and skipped.
func (b *Bridge) applyRoles(p *permissions.CasbinProvider, roles map[string]config.RoleConfig) {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := roles[name]
		if err := p.ApplyRole(name, r.Nodes, r.Members); err != nil {
			b.logger.Warn("cannot apply permission role", zap.String("role", name), zap.Error(err))
			continue
		}
		b.logger.Debug("permission role applied", zap.String("role", name),
			zap.Int("nodes", len(r.Nodes)), zap.Int("members", len(r.Members)))
	}
}

func policyPath(b *Bridge, cfg *config.Config) string {
	if cfg.Permissions.PolicyFile == "" {
		return ""
	}
	return b.dataPath(cfg.Permissions.PolicyFile, "")
}

// reload applies the settings that may change at runtime.
func (b *Bridge) reload(next *config.Config) {
	prev := b.Config()
	// Endpoint and backend settings need a restart; keep the running values.
	next.Backend.WebSocketURL = prev.Backend.WebSocketURL
	next.Backend.Port = prev.Backend.Port
	next.Backend.Embedded = prev.Backend.Embedded
	b.cfg.Store(next)

	b.mu.Lock()
	limiter := b.limiter
	b.mu.Unlock()
	if limiter != nil {
		limiter.SetLimit(rate.Limit(next.Console.CommandsPerSecond))
		limiter.SetBurst(next.Console.Burst)
	}
	if b.opts.Level != nil && next.Log.Level != prev.Log.Level {
		if lvl, err := zapcore.ParseLevel(next.Log.Level); err != nil {
			b.logger.Warn("ignoring invalid log level", zap.String("level", next.Log.Level))
		} else {
			b.opts.Level.SetLevel(lvl)
		}
	}
	b.logger.Info("config applied",
		zap.String("public_url", next.Backend.PublicURL),
		zap.Duration("token_expiry", next.TokenExpiry()))
}

// Disable stops every component in reverse order. Idempotent.
func (b *Bridge) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	b.enabled = false

	if b.watcher != nil {
		b.watcher.Close()
		b.watcher = nil
	}
	b.supervisor.Shutdown()
	b.cancel()
	<-b.runDone
	if b.backend != nil {
		b.backend.Stop()
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("closing storage", zap.Error(err))
		}
	}
	b.logger.Info("bridge disabled")
}

// Connected reports whether the backend connection is open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	sup := b.supervisor
	enabled := b.enabled
	b.mu.Unlock()
	return enabled && sup.IsOpen()
}

// State is the connection state, or Disconnected while disabled.
func (b *Bridge) State() supervisor.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return supervisor.Disconnected
	}
	return b.supervisor.State()
}

// BackendStatus reports the embedded backend process. ok is false when no
// embedded backend is managed.
func (b *Bridge) BackendStatus() (backend.Status, bool) {
	b.mu.Lock()
	mgr := b.backend
	b.mu.Unlock()
	if mgr == nil {
		return backend.Status{}, false
	}
	return mgr.Status(), true
}

// IssuePanelToken hands a panel login token for p to the backend. Call it on
// the host thread; permission checks consult live player state.
func (b *Bridge) IssuePanelToken(ctx context.Context, p auth.Player) (auth.Grant, error) {
	b.mu.Lock()
	issuer := b.issuer
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return auth.Grant{}, apperrors.BackendOffline()
	}
	return issuer.Issue(ctx, p)
}

// Permissions exposes the permission bridge, nil while disabled.
func (b *Bridge) Permissions() *permissions.Bridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perms
}
