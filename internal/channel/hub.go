package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const defaultWriteTimeout = 5 * time.Second

// Hub is a websocket endpoint the injected worker dials back to. Only the
// most recent connection is kept; a new worker replaces the previous one.
type Hub struct {
	upgrader websocket.Upgrader
	inbound  chan Inbound
	logger   *pkgLogger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

// NewHub creates a hub whose inbound queue holds bufferSize messages.
func NewHub(bufferSize int, logger *pkgLogger.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The worker runs inside the embedded page, whose origin differs from ours.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		inbound: make(chan Inbound, bufferSize),
		logger:  logger.WithComponent("channel"),
	}
}

// ServeHTTP upgrades the request and pumps worker messages into Inbound.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	prev := h.conn
	h.conn = conn
	h.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	h.logger.InfoWithIntention(pkgLogger.IntentionChannel, "Embedded worker connected", "remote", r.RemoteAddr)

	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.InfoWithIntention(pkgLogger.IntentionChannel, "Embedded worker disconnected")
	}()

	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Websocket read ended", "error", err)
			}
			return
		}
		if !msg.FromEmbedded() {
			h.logger.Debug("Ignoring foreign message", "type", msg.Type)
			continue
		}
		select {
		case h.inbound <- msg:
		default:
			h.logger.Warn("Inbound queue full, dropping message", "command", msg.Command)
		}
	}
}

// Post writes msg to the connected worker.
func (h *Hub) Post(ctx context.Context, msg Outbound) error {
	h.mu.Lock()
	conn := h.conn
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "post %s", msg.Command)
	}
	return nil
}

// Inbound implements Port.
func (h *Hub) Inbound() <-chan Inbound {
	return h.inbound
}

// Connected reports whether a worker is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Close drops the current connection and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.closed = true
	h.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
