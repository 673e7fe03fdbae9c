package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The engine sits behind the deployment's own ingress; origin policy
	// is enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection and relays dispatched events until
// the client goes away. Each connection owns one hub subscription; a dead or
// slow client only ever loses its own events.
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sub := h.svc.Subscribe()
	h.logger.Debug("stream client connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// writePump relays subscription events and keepalive pings to the peer.
// Exits when the subscription channel closes or any write fails.
func (h *handler) writePump(conn *websocket.Conn, sub *dispatch.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.svc.Unsubscribe(sub)
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("stream write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames but keeps pong handling alive so dead
// connections are detected and their subscriptions released.
func (h *handler) readPump(conn *websocket.Conn, sub *dispatch.Subscription) {
	defer func() {
		h.svc.Unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream read error", slog.Any("error", err))
			}
			return
		}
	}
}
