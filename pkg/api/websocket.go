package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentscan/registry-indexer/internal/bus"
	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write
	writeWait = 10 * time.Second

	// pongWait is how long we keep a connection without a pong
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler bridges the broadcast bus onto WebSocket connections. Each
// client gets its own bus subscription; a slow client sees "lagged" frames
// instead of slowing the indexer down.
type WSHandler struct {
	bus      *bus.Bus
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler over the bus.
func NewWSHandler(eventBus *bus.Bus, log *logger.Logger) *WSHandler {
	return &WSHandler{
		bus: eventBus,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Any origin may upgrade: the CORS middleware only sets response
			// headers and does not reject requests. The read-only stream
			// carries public chain data.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams events until either side
// closes. An optional chain_id query parameter filters to one chain.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var chainID *uint64
	if raw := r.URL.Query().Get("chain_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid chain_id")
			return
		}
		chainID = &id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugf("websocket upgrade failed: %v", err)
		return
	}

	sub := h.bus.Subscribe(chainID)
	h.log.Debugw("websocket client connected", "subscription", sub.ID(), "remote_addr", r.RemoteAddr)

	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *WSHandler) readLoop(conn *websocket.Conn, sub *bus.Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop pushes bus messages and keep-alive pings to the client.
func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *bus.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Tell the client it fell behind before handing it the next
			// event, so it can resync from the store.
			if msg.Lagged > 0 {
				if err := conn.WriteJSON(WSMessage{Type: "lagged", Lagged: msg.Lagged}); err != nil {
					return
				}
			}

			event := msg.Event
			if err := conn.WriteJSON(WSMessage{Type: "event", Event: &event}); err != nil {
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
