package host

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trybeacon/bridge/internal/hostloop"
)

// LevelFile marks a directory under the server root as a world.
const LevelFile = "level.dat"

// SoftwareName is what the standalone host reports as its server software.
const SoftwareName = "Beacon Standalone"

// DefaultMaxPlayers is the player cap reported by the standalone host.
const DefaultMaxPlayers = 20

var defaultGamerules = map[string]string{
	"doDaylightCycle":      "true",
	"doWeatherCycle":       "true",
	"keepInventory":        "false",
	"mobGriefing":          "true",
	"doMobSpawning":        "true",
	"announceAdvancements": "true",
}

var commandNames = []string{"list", "save-all", "say", "stop", "time", "weather"}

type world struct {
	name      string
	env       string
	loaded    bool
	time      int64
	storming  bool
	seed      int64
	gamerules map[string]string
}

type player struct {
	info  PlayerInfo
	perms map[string]bool
}

// StandaloneOptions configures a Standalone host.
type StandaloneOptions struct {
	Layout     Layout
	Version    string
	MaxPlayers int
	Loop       *hostloop.Loop
	Logger     *zap.Logger
	// OnStop runs when the stop command is dispatched.
	OnStop func()
}

// Standalone is a minimal Host that runs without a game server. Worlds are
// the directories under the server root that contain a level.dat file.
type Standalone struct {
	opts   StandaloneOptions
	logger *zap.Logger

	mu      sync.Mutex
	worlds  map[string]*world
	players map[string]*player
}

// NewStandalone creates a standalone host and loads every world found on disk.
func NewStandalone(opts StandaloneOptions) *Standalone {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = DefaultMaxPlayers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Standalone{
		opts:    opts,
		logger:  opts.Logger.Named("server"),
		worlds:  make(map[string]*world),
		players: make(map[string]*player),
	}
	for _, name := range discoverWorlds(opts.Layout.ServerRoot) {
		s.worlds[name] = newWorld(name)
	}
	return s
}

func newWorld(name string) *world {
	return &world{
		name:      name,
		env:       environmentFor(name),
		loaded:    true,
		seed:      rand.Int64(),
		gamerules: copyRules(defaultGamerules),
	}
}

func environmentFor(name string) string {
	switch {
	case strings.HasSuffix(name, "_nether"):
		return "NETHER"
	case strings.HasSuffix(name, "_the_end"):
		return "THE_END"
	default:
		return "NORMAL"
	}
}

func copyRules(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// discoverWorlds lists directories under root containing a level file.
func discoverWorlds(root string) []string {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), LevelFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Join adds an online player with a fixed permission set.
func (s *Standalone) Join(info PlayerInfo, perms map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.FirstJoin == 0 {
		info.FirstJoin = time.Now().UnixMilli()
	}
	s.players[info.UUID] = &player{info: info, perms: perms}
	s.logger.Info(info.Name + " joined the game")
}

// Quit removes an online player.
func (s *Standalone) Quit(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[uuid]; ok {
		delete(s.players, uuid)
		s.logger.Info(p.info.Name + " left the game")
	}
}

// DispatchCommand runs a console command.
func (s *Standalone) DispatchCommand(command string) error {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "say":
		s.logger.Info("[Server] " + strings.Join(args, " "))
	case "list":
		s.mu.Lock()
		names := make([]string, 0, len(s.players))
		for _, p := range s.players {
			names = append(names, p.info.Name)
		}
		s.mu.Unlock()
		sort.Strings(names)
		s.logger.Info(fmt.Sprintf("There are %d of a max of %d players online: %s",
			len(names), s.opts.MaxPlayers, strings.Join(names, ", ")))
	case "save-all":
		s.logger.Info("Saved the game")
	case "stop":
		s.logger.Info("Stopping the server")
		if s.opts.OnStop != nil {
			s.opts.OnStop()
		}
	case "time":
		return s.timeCommand(args)
	case "weather":
		return s.weatherCommand(args)
	default:
		s.logger.Warn("Unknown command. Type \"help\" for help.", zap.String("command", name))
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

func (s *Standalone) timeCommand(args []string) error {
	if len(args) != 2 || args[0] != "set" {
		return fmt.Errorf("usage: time set <day|night|ticks>")
	}
	var t int64
	switch args[1] {
	case "day":
		t = DayTime
	case "night":
		t = NightTime
	default:
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid time %q", args[1])
		}
		t = n
	}
	s.mu.Lock()
	for _, w := range s.worlds {
		if w.loaded {
			w.time = t
		}
	}
	s.mu.Unlock()
	s.logger.Info(fmt.Sprintf("Set the time to %d", t))
	return nil
}

func (s *Standalone) weatherCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: weather <clear|rain|thunder>")
	}
	var storm bool
	switch args[0] {
	case "clear":
	case "rain", "thunder":
		storm = true
	default:
		return fmt.Errorf("invalid weather %q", args[0])
	}
	s.mu.Lock()
	for _, w := range s.worlds {
		if w.loaded {
			w.storming = storm
		}
	}
	s.mu.Unlock()
	s.logger.Info("Changing the weather to " + args[0])
	return nil
}

// TabComplete completes the last word of buffer.
func (s *Standalone) TabComplete(buffer string) []string {
	trimmed := strings.TrimPrefix(buffer, "/")
	words := strings.Split(trimmed, " ")
	last := words[len(words)-1]

	var candidates []string
	switch {
	case len(words) == 1:
		candidates = commandNames
	case len(words) == 2 && words[0] == "time":
		candidates = []string{"set"}
	case len(words) == 3 && words[0] == "time" && words[1] == "set":
		candidates = []string{"day", "night"}
	case len(words) == 2 && words[0] == "weather":
		candidates = []string{"clear", "rain", "thunder"}
	}

	out := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(c, strings.ToLower(last)) {
			out = append(out, c)
		}
	}
	return out
}

// WorldAction applies a world change. Unknown worlds are an error.
func (s *Standalone) WorldAction(a WorldAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.worlds[a.World]
	if a.Action == "load" {
		if !ok {
			if !containsString(discoverWorlds(s.opts.Layout.ServerRoot), a.World) {
				return fmt.Errorf("world %q does not exist", a.World)
			}
			w = newWorld(a.World)
			s.worlds[a.World] = w
		}
		w.loaded = true
		return nil
	}
	if !ok || !w.loaded {
		return fmt.Errorf("world %q is not loaded", a.World)
	}

	switch a.Action {
	case "set_day":
		w.time = DayTime
	case "set_night":
		w.time = NightTime
	case "toggle_weather":
		w.storming = !w.storming
	case "set_gamerule":
		if a.Rule == "" {
			return fmt.Errorf("missing gamerule")
		}
		w.gamerules[a.Rule] = a.Value
	case "unload":
		w.loaded = false
	case "reset":
		w.time = 0
		w.storming = false
		w.gamerules = copyRules(defaultGamerules)
	default:
		return fmt.Errorf("unsupported world action %q", a.Action)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Stats returns the current server snapshot.
func (s *Standalone) Stats() ServerStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.mu.Lock()
	list := make([]PlayerInfo, 0, len(s.players))
	for _, p := range s.players {
		list = append(list, p.info)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	tps := float64(hostloop.TicksPerSecond)
	if s.opts.Loop != nil {
		tps = s.opts.Loop.TPS()
	}
	return ServerStats{
		Players:          len(list),
		MaxPlayers:       s.opts.MaxPlayers,
		TPS:              tps,
		RAMUsedMB:        int64(mem.HeapAlloc >> 20),
		RAMMaxMB:         int64(mem.Sys >> 20),
		PlayerList:       list,
		DefaultGamerules: copyRules(defaultGamerules),
	}
}

// Worlds lists loaded worlds followed by worlds that exist only on disk.
func (s *Standalone) Worlds() []WorldInfo {
	onDisk := discoverWorlds(s.opts.Layout.ServerRoot)

	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded, unloaded []WorldInfo
	counts := make(map[string]int)
	for _, p := range s.players {
		counts[p.info.World]++
	}
	for _, name := range sortedKeys(s.worlds) {
		w := s.worlds[name]
		if !w.loaded {
			continue
		}
		loaded = append(loaded, WorldInfo{
			Name:        w.name,
			Environment: w.env,
			Loaded:      true,
			Players:     counts[w.name],
			Time:        w.time,
			Storming:    w.storming,
			Difficulty:  "NORMAL",
			Seed:        strconv.FormatInt(w.seed, 10),
			Gamerules:   copyRules(w.gamerules),
		})
	}
	for _, name := range onDisk {
		if w, ok := s.worlds[name]; ok && w.loaded {
			continue
		}
		unloaded = append(unloaded, WorldInfo{
			Name:        name,
			Environment: UnknownEnvironment,
			Difficulty:  NotAvailable,
			Seed:        NotAvailable,
			Gamerules:   map[string]string{},
		})
	}
	return append(loaded, unloaded...)
}

func sortedKeys(m map[string]*world) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Env identifies the standalone host.
func (s *Standalone) Env() ServerEnv {
	return ServerEnv{Software: SoftwareName, Version: s.opts.Version}
}

// Player looks up an online player.
func (s *Standalone) Player(uuid string) (PlayerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[uuid]
	if !ok {
		return PlayerInfo{}, false
	}
	return p.info, true
}

// PlayerHas checks an online player's permission.
func (s *Standalone) PlayerHas(uuid, node string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[uuid]
	if !ok {
		return false, false
	}
	return p.perms[node], true
}

// Layout returns the install layout.
func (s *Standalone) Layout() Layout {
	return s.opts.Layout
}

var _ Host = (*Standalone)(nil)
