package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	dialTimeout  = 10 * time.Second
	maxFrameSize = 32 << 20 // base64 uploads travel inline
)

type wsState int

const (
	wsIdle wsState = iota
	wsConnecting
	wsOpen
	wsClosing
	wsClosed
)

// WebSocket is the gorilla/websocket Transport.
type WebSocket struct {
	endpoint string
	listener Listener
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu    sync.Mutex
	state wsState
	conn  *websocket.Conn

	// pumping is set once the read pump owns the connection.
	pumping bool

	// writeMu serializes data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	done    chan struct{}
}

// NewWebSocket validates endpoint and creates an unopened transport.
func NewWebSocket(endpoint string, l Listener, logger *zap.Logger) (*WebSocket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, apperrors.InvalidEndpoint(endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, apperrors.InvalidEndpoint(endpoint, errors.New("scheme must be ws or wss"))
	}
	if u.Host == "" {
		return nil, apperrors.InvalidEndpoint(endpoint, errors.New("missing host"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		endpoint: endpoint,
		listener: l,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: dialTimeout,
		},
		logger: logger.With(zap.String("conn", uuid.NewString()[:8])),
		done:   make(chan struct{}),
	}, nil
}

// WebSocketFactory returns a TransportFactory producing WebSocket transports.
func WebSocketFactory(logger *zap.Logger) TransportFactory {
	return func(endpoint string, l Listener) (Transport, error) {
		return NewWebSocket(endpoint, l, logger)
	}
}

// Open dials the endpoint.
func (w *WebSocket) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.state != wsIdle {
		w.mu.Unlock()
		return errors.New("transport already used")
	}
	w.state = wsConnecting
	w.mu.Unlock()

	conn, _, err := w.dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		w.mu.Lock()
		w.state = wsClosed
		w.mu.Unlock()
		close(w.done)
		err = apperrors.DialFailed(w.endpoint, err)
		w.listener.OnError(w, err)
		return err
	}

	w.mu.Lock()
	if w.state != wsConnecting {
		// Closed while dialing.
		w.state = wsClosed
		w.mu.Unlock()
		conn.Close()
		close(w.done)
		return apperrors.NotOpen()
	}
	w.conn = conn
	w.state = wsOpen
	w.mu.Unlock()

	w.logger.Debug("websocket open", zap.String("endpoint", w.endpoint))
	w.listener.OnOpen(w)

	w.mu.Lock()
	if w.state != wsOpen {
		// Rejected and closed by the listener.
		w.mu.Unlock()
		return apperrors.NotOpen()
	}
	w.pumping = true
	w.mu.Unlock()

	go w.readPump(conn)
	go w.pingLoop(conn)
	return nil
}

func (w *WebSocket) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var reason string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = closeReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
		w.listener.OnFrame(w, data)
	}

	conn.Close()
	w.mu.Lock()
	w.state = wsClosed
	w.mu.Unlock()
	close(w.done)
	w.listener.OnClose(w, reason)
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("close code %d", ce.Code)
	}
	return err.Error()
}

func (w *WebSocket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// Send writes one text frame.
func (w *WebSocket) Send(frame []byte) error {
	w.mu.Lock()
	conn, open := w.conn, w.state == wsOpen
	w.mu.Unlock()
	if !open {
		return apperrors.NotOpen()
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionClosed, "write failed", err)
	}
	return nil
}

// Close starts a normal close. The read pump reports OnClose once the
// connection is gone. Safe to call more than once.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	switch w.state {
	case wsIdle, wsConnecting:
		w.state = wsClosing
		w.mu.Unlock()
		return nil
	case wsOpen:
		if !w.pumping {
			// No read pump will ever see the close echo.
			w.state = wsClosed
			conn := w.conn
			w.mu.Unlock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			conn.Close()
			close(w.done)
			return nil
		}
		w.state = wsClosing
	default:
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	w.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

	// Give the peer a moment to echo the close frame, then drop the socket.
	select {
	case <-w.done:
	case <-time.After(time.Second):
		conn.Close()
	}
	return nil
}

// IsOpen reports whether frames can be sent.
func (w *WebSocket) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == wsOpen
}

// IsClosing reports whether a close is in progress.
func (w *WebSocket) IsClosing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == wsClosing
}

var _ Transport = (*WebSocket)(nil)
