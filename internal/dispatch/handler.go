package dispatch

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/trybeacon/bridge/internal/protocol"
)

// Affinity says where a handler runs.
type Affinity int

const (
	// HostThread handlers touch live host state and run inside a tick.
	HostThread Affinity = iota + 1
	// WorkerThread handlers do blocking work (disk, database) on their own
	// goroutine.
	WorkerThread
)

func (a Affinity) String() string {
	switch a {
	case HostThread:
		return "host"
	case WorkerThread:
		return "worker"
	default:
		return fmt.Sprintf("affinity(%d)", int(a))
	}
}

// HandleFunc processes one inbound envelope. For request handlers the
// returned payload becomes the response; fire-and-forget handlers return nil.
type HandleFunc func(ctx context.Context, env protocol.Envelope) (any, error)

// FailFunc builds the response payload for a request that failed with err.
type FailFunc func(env protocol.Envelope, err error) any

// Handler is one row of the dispatch table.
type Handler struct {
	Event    string
	Affinity Affinity
	// Schema is an optional JSON schema the payload must satisfy.
	Schema string
	// ResponseEvent is set for request/response events. Such requests always
	// get exactly one response, built by Fail when Handle errors.
	ResponseEvent string
	Handle        HandleFunc
	Fail          FailFunc

	schema *gojsonschema.Schema
}

// IsRequest reports whether the handler answers its events.
func (h *Handler) IsRequest() bool {
	return h.ResponseEvent != ""
}

func (h *Handler) compile() error {
	if h.Event == "" {
		return fmt.Errorf("handler has no event name")
	}
	if h.Affinity != HostThread && h.Affinity != WorkerThread {
		return fmt.Errorf("handler %s: unknown affinity %s", h.Event, h.Affinity)
	}
	if h.Handle == nil {
		return fmt.Errorf("handler %s: nil Handle", h.Event)
	}
	if h.IsRequest() && h.Fail == nil {
		return fmt.Errorf("handler %s: request handlers need Fail", h.Event)
	}
	if h.Schema != "" {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(h.Schema))
		if err != nil {
			return fmt.Errorf("handler %s: bad schema: %w", h.Event, err)
		}
		h.schema = s
	}
	return nil
}
