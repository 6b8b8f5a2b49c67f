package telemetry

import (
	"github.com/trybeacon/bridge/internal/logging"
	"github.com/trybeacon/bridge/internal/protocol"
	"github.com/trybeacon/bridge/internal/supervisor"
)

// ConsoleStream forwards host log lines to the backend as console_log while
// connected.
type ConsoleStream struct {
	core *logging.StreamCore
}

// NewConsoleStream streams entries seen by core.
func NewConsoleStream(core *logging.StreamCore) *ConsoleStream {
	return &ConsoleStream{core: core}
}

// Start implements supervisor.Dependent.
func (c *ConsoleStream) Start(s supervisor.Sender) {
	if c.core == nil {
		return
	}
	c.core.Attach(logging.LogSinkFunc(func(level, line string) {
		s.Send(protocol.NewConsoleLogMessage(level, line))
	}))
}

// Stop implements supervisor.Dependent.
func (c *ConsoleStream) Stop() {
	if c.core != nil {
		c.core.Detach()
	}
}

var _ supervisor.Dependent = (*ConsoleStream)(nil)
