// Package hardware owns the websocket link to the lift device. The device
// dials in; at most one connection is live and a newer connection supersedes
// the previous one, which covers the device rebooting faster than its old
// socket times out.
package hardware

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/metrics"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/outbox"
)

// FrameHandler consumes one raw inbound frame.
type FrameHandler interface {
	Handle(ctx context.Context, raw []byte) error
}

// Link accepts the device connection and moves frames in both directions.
// It is the outbox's Sender: Send fails with outbox.ErrNotConnected while no
// device is attached, which leaves the frame queued.
type Link struct {
	upgrader websocket.Upgrader
	handler  FrameHandler
	audit    *audit.Recorder
	metrics  metrics.Sink
	log      logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLink creates a Link. sink defaults to the no-op sink. handler may be
// nil at construction when the frame pipeline is wired afterwards; it must
// be set before the link starts serving.
func NewLink(handler FrameHandler, rec *audit.Recorder, sink metrics.Sink, log logger.Logger) *Link {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Link{
		upgrader: websocket.Upgrader{
			// The device dials from its own network; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handler: handler,
		audit:   rec,
		metrics: sink,
		log:     log,
	}
}

// SetHandler installs the inbound frame handler.
func (l *Link) SetHandler(h FrameHandler) { l.handler = h }

// ServeHTTP upgrades the request and runs the read loop until the connection
// drops or is superseded.
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	l.attach(r.Context(), conn, r.RemoteAddr)
	l.readLoop(r.Context(), conn)
}

func (l *Link) attach(ctx context.Context, conn *websocket.Conn, remote string) {
	l.mu.Lock()
	old := l.conn
	l.conn = conn
	l.mu.Unlock()

	if old != nil {
		l.log.Warnf("hardware connection superseded by %s", remote)
		_ = old.Close()
	}
	l.metrics.SetConnected(true)
	l.log.Infof("hardware connected from %s", remote)
	l.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("device connected from %s", remote), model.AuditDeviceConnected, "")
}

// detach clears the connection if it is still the current one. A superseded
// connection's read loop must not tear down its successor.
func (l *Link) detach(ctx context.Context, conn *websocket.Conn) {
	l.mu.Lock()
	current := l.conn == conn
	if current {
		l.conn = nil
	}
	l.mu.Unlock()
	_ = conn.Close()

	if current {
		l.metrics.SetConnected(false)
		l.log.Warnf("hardware disconnected")
		l.audit.Record(ctx, model.AuditWarn, "device disconnected", model.AuditDeviceConnected, "")
	}
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer l.detach(ctx, conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warnf("hardware read failed: %v", err)
			}
			return
		}
		// Handle reports drop reasons; the loop survives every bad frame.
		if err := l.handler.Handle(ctx, raw); err != nil {
			l.log.Debugf("frame rejected: %v", err)
		}
	}
}

// IsConnected reports whether a device connection is attached.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send transmits one frame on the current connection.
func (l *Link) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return outbox.ErrNotConnected
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close drops the current connection, if any.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		l.metrics.SetConnected(false)
		return conn.Close()
	}
	return nil
}

var _ outbox.Sender = (*Link)(nil)
