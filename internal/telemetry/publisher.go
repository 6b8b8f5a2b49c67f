// Package telemetry pushes server state to the backend while connected.
package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/protocol"
	"github.com/trybeacon/bridge/internal/supervisor"
)

// StatsPeriod is how often server_stats and world_stats go out.
var StatsPeriod = hostloop.Ticks(2 * time.Second)

// Scheduler runs closures on the host thread.
type Scheduler interface {
	RunOnHostThread(fn func())
	Every(delay, period int64, fn func()) *hostloop.Task
}

// Publisher sends server_env and plugin_paths once per connection, then
// server_stats and world_stats every period. All host reads happen on the
// host thread.
type Publisher struct {
	host    host.Host
	sched   Scheduler
	version string
	period  int64
	logger  *zap.Logger

	mu   sync.Mutex
	task *hostloop.Task
}

// NewPublisher creates a publisher. version is the bridge version reported
// in server_env.
func NewPublisher(h host.Host, sched Scheduler, version string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		host:    h,
		sched:   sched,
		version: version,
		period:  StatsPeriod,
		logger:  logger.Named("telemetry"),
	}
}

// Start implements supervisor.Dependent.
func (p *Publisher) Start(s supervisor.Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		p.task.Cancel()
	}

	p.sched.RunOnHostThread(func() {
		layout := p.host.Layout()
		s.Send(protocol.NewServerEnvMessage(EnvPayload(p.host.Env(), layout, p.version)))
		s.Send(protocol.NewPluginPathsMessage(layout.DataDir))
	})
	// Stats start one tick later so server_env is always first.
	p.task = p.sched.Every(1, p.period, func() {
		s.Send(protocol.NewServerStatsMessage(StatsPayload(p.host.Stats())))
		s.Send(protocol.NewWorldStatsMessage(WorldPayloads(p.host.Worlds())))
	})
	p.logger.Debug("publisher started", zap.Int64("period_ticks", p.period))
}

// Stop implements supervisor.Dependent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		p.task.Cancel()
		p.task = nil
		p.logger.Debug("publisher stopped")
	}
}

// StatsPayload converts a host snapshot for the wire.
func StatsPayload(st host.ServerStats) protocol.ServerStatsPayload {
	players := make([]protocol.PlayerPayload, 0, len(st.PlayerList))
	for _, pl := range st.PlayerList {
		players = append(players, protocol.PlayerPayload{
			Name:      pl.Name,
			UUID:      pl.UUID,
			Ping:      pl.Ping,
			FirstJoin: pl.FirstJoin,
			Playtime:  pl.Playtime,
			World:     pl.World,
		})
	}
	return protocol.ServerStatsPayload{
		Players:          st.Players,
		MaxPlayers:       st.MaxPlayers,
		TPS:              fmt.Sprintf("%.2f", st.TPS),
		RAMUsed:          st.RAMUsedMB,
		RAMMax:           st.RAMMaxMB,
		PlayerList:       players,
		DefaultGamerules: st.DefaultGamerules,
	}
}

// WorldPayloads converts the host's worlds for the wire. Unloaded worlds
// carry placeholders only.
func WorldPayloads(worlds []host.WorldInfo) []protocol.WorldPayload {
	out := make([]protocol.WorldPayload, 0, len(worlds))
	for _, w := range worlds {
		wp := protocol.WorldPayload{
			Name:        w.Name,
			Environment: w.Environment,
			Loaded:      w.Loaded,
			Difficulty:  w.Difficulty,
			Seed:        w.Seed,
			Gamerules:   w.Gamerules,
		}
		if w.Loaded {
			wp.Players = w.Players
			wp.Chunks = w.Chunks
			wp.Entities = w.Entities
			wp.Time = w.Time
			wp.Storming = w.Storming
		} else {
			if wp.Environment == "" {
				wp.Environment = host.UnknownEnvironment
			}
			wp.Difficulty = host.NotAvailable
			wp.Seed = host.NotAvailable
			wp.Gamerules = nil
		}
		out = append(out, wp)
	}
	return out
}

// EnvPayload describes the running host.
func EnvPayload(env host.ServerEnv, layout host.Layout, bridgeVersion string) protocol.ServerEnvPayload {
	return protocol.ServerEnvPayload{
		Software:      env.Software,
		Version:       env.Version,
		BridgeVersion: bridgeVersion,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Runtime:       runtime.Version(),
		CPUs:          runtime.NumCPU(),
		ServerRoot:    layout.ServerRoot,
		OnlineMode:    env.OnlineMode,
	}
}

var _ supervisor.Dependent = (*Publisher)(nil)
