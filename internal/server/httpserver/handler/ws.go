// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
)

// WebSocket tuning.
const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a silent client stays connected.
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait.
	wsPingPeriod = 54 * time.Second

	// wsSendBuffer is the per-client outbound message buffer. A client
	// that falls this far behind starts losing messages; durability
	// lives in the store, not the socket.
	wsSendBuffer = 64
)

// wsUpgrader upgrades HTTP connections to WebSocket. Cross-origin
// browser clients are allowed, the GUI may be served from elsewhere.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket handles GET /ws/{room_id}: the connection becomes a
// fanout listener for the room until either side closes it.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		h.writeError(w, r, http.StatusBadRequest,
			domain.ErrInvalidArgument.Code, "room_id is required")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan *domain.Message, wsSendBuffer),
		done: make(chan struct{}),
		log:  h.log.With("room_id", roomID, "remote", conn.RemoteAddr().String()),
	}

	if err := h.fanout.Connect(r.Context(), roomID, client); err != nil {
		h.log.Warn("fanout connect failed", "room_id", roomID, "error", err)
		conn.Close()
		return
	}
	defer h.fanout.Disconnect(roomID, client)

	go client.writePump()
	client.readPump()
}

// wsClient adapts one WebSocket connection to the fanout Listener
// interface.
type wsClient struct {
	conn *websocket.Conn
	send chan *domain.Message
	done chan struct{}
	log  logger.Logger
}

// Deliver implements fanout.Listener. It never blocks: a full send
// buffer drops the message instead of stalling the room feed.
func (c *wsClient) Deliver(msg *domain.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("websocket client lagging, message dropped", "message_id", msg.ID)
	}
}

// readPump consumes inbound frames until the connection dies. Clients
// send messages over the REST API, not the socket, so inbound data is
// discarded; the pump exists to run pong handling and notice closes.
func (c *wsClient) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump streams delivered messages and keepalive pings to the
// client until readPump signals the connection is gone.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.log.Warn("message marshal failed", "message_id", msg.ID, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
