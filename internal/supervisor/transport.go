package supervisor

import "context"

// Transport is one connection attempt to the backend. A Transport is used
// once: after it closes, the supervisor builds a new one.
type Transport interface {
	// Open dials and blocks until the outcome is known. The transport reports
	// the outcome to its Listener itself (OnOpen or OnError) before Open
	// returns, and OnClose later when an open connection ends.
	Open(ctx context.Context) error
	Send(frame []byte) error
	Close() error
	IsOpen() bool
	IsClosing() bool
}

// Listener receives transport callbacks. Callbacks for one transport never
// overlap, but callbacks for different transports may.
type Listener interface {
	OnOpen(t Transport)
	OnClose(t Transport, reason string)
	OnError(t Transport, err error)
	OnFrame(t Transport, frame []byte)
}

// TransportFactory builds a transport for endpoint. It must not block; a bad
// endpoint is reported as a connection.invalid_endpoint error.
type TransportFactory func(endpoint string, l Listener) (Transport, error)
