package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trybeacon/bridge/internal/host"
	"github.com/trybeacon/bridge/internal/hostloop"
	"github.com/trybeacon/bridge/internal/logging"
	"github.com/trybeacon/bridge/internal/protocol"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSender) Send(msg protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Event)
	return true
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newStandalone(t *testing.T, loop *hostloop.Loop) *host.Standalone {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "world"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "world", host.LevelFile), nil, 0o644))
	return host.NewStandalone(host.StandaloneOptions{
		Layout: host.Layout{
			ServerRoot: root,
			PluginsDir: filepath.Join(root, "plugins"),
			DataDir:    filepath.Join(root, "plugins", "Beacon"),
		},
		Loop: loop,
	})
}

func TestPublisher_Schedule(t *testing.T) {
	loop := hostloop.New(time.Millisecond, nil)
	h := newStandalone(t, loop)
	p := NewPublisher(h, loop, "1.2.3", nil)
	p.period = 3
	sender := &recordingSender{}

	p.Start(sender)
	loop.Tick()
	assert.Equal(t, []string{protocol.EventServerEnv, protocol.EventPluginPaths}, sender.snapshot())

	loop.Tick()
	assert.Equal(t, []string{
		protocol.EventServerEnv,
		protocol.EventPluginPaths,
		protocol.EventServerStats,
		protocol.EventWorldStats,
	}, sender.snapshot())

	loop.Tick()
	loop.Tick()
	assert.Len(t, sender.snapshot(), 4)
	loop.Tick()
	assert.Len(t, sender.snapshot(), 6)

	p.Stop()
	p.Stop()
	for i := 0; i < 6; i++ {
		loop.Tick()
	}
	assert.Len(t, sender.snapshot(), 6, "no sends after Stop")
}

func TestPublisher_RestartReplacesTask(t *testing.T) {
	loop := hostloop.New(time.Millisecond, nil)
	p := NewPublisher(newStandalone(t, loop), loop, "dev", nil)
	p.period = 1

	first := &recordingSender{}
	second := &recordingSender{}
	p.Start(first)
	p.Start(second)
	loop.Tick()
	loop.Tick()

	assert.NotContains(t, first.snapshot(), protocol.EventServerStats)
	assert.Contains(t, second.snapshot(), protocol.EventServerStats)
	p.Stop()
}

func TestStatsPayload(t *testing.T) {
	st := StatsPayload(host.ServerStats{
		Players:    1,
		MaxPlayers: 20,
		TPS:        19.9567,
		RAMUsedMB:  512,
		RAMMaxMB:   2048,
		PlayerList: []host.PlayerInfo{{Name: "Alex", UUID: "u1", Ping: 42, World: "world"}},
	})
	assert.Equal(t, "19.96", st.TPS)
	assert.Equal(t, int64(512), st.RAMUsed)
	require.Len(t, st.PlayerList, 1)
	assert.Equal(t, "Alex", st.PlayerList[0].Name)
	assert.Equal(t, 42, st.PlayerList[0].Ping)

	empty := StatsPayload(host.ServerStats{})
	assert.NotNil(t, empty.PlayerList)
}

func TestWorldPayloads_UnloadedPlaceholders(t *testing.T) {
	out := WorldPayloads([]host.WorldInfo{
		{Name: "world", Environment: "NORMAL", Loaded: true, Players: 2, Time: 6000, Difficulty: "NORMAL", Seed: "42", Gamerules: map[string]string{"keepInventory": "true"}},
		{Name: "archive", Loaded: false, Players: 9, Difficulty: "HARD", Seed: "7"},
	})
	require.Len(t, out, 2)

	assert.Equal(t, 2, out[0].Players)
	assert.Equal(t, "42", out[0].Seed)
	assert.Equal(t, "true", out[0].Gamerules["keepInventory"])

	assert.Equal(t, host.UnknownEnvironment, out[1].Environment)
	assert.Equal(t, host.NotAvailable, out[1].Difficulty)
	assert.Equal(t, host.NotAvailable, out[1].Seed)
	assert.Zero(t, out[1].Players)
}

func TestEnvPayload(t *testing.T) {
	env := EnvPayload(host.ServerEnv{Software: "Paper", Version: "1.21", OnlineMode: true}, host.Layout{ServerRoot: "/srv/mc"}, "0.4.0")
	assert.Equal(t, "Paper", env.Software)
	assert.Equal(t, "0.4.0", env.BridgeVersion)
	assert.Equal(t, "/srv/mc", env.ServerRoot)
	assert.True(t, env.OnlineMode)
	assert.NotEmpty(t, env.Runtime)
	assert.Positive(t, env.CPUs)
}

func TestConsoleStream(t *testing.T) {
	l, err := logging.New(logging.Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)
	defer l.Close()

	cs := NewConsoleStream(l.Stream)
	sender := &recordingSender{}

	l.Info("before")
	cs.Start(sender)
	l.Info("during")
	cs.Stop()
	cs.Stop()
	l.Info("after")

	assert.Equal(t, []string{protocol.EventConsoleLog}, sender.snapshot())

	NewConsoleStream(nil).Start(sender)
}
