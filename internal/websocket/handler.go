package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"slidecast/internal/router"
	"slidecast/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Sessions are joined by short-lived shareable codes; origin checking
		// is left to the deployment in front of this process.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Config holds the connection keepalive settings.
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests to websocket connections and pumps their
// events into the router. Room membership is established by the
// join-session event, not at upgrade time.
type Handler struct {
	eventRouter *router.Router
	cfg         Config
}

// NewHandler creates a websocket handler.
func NewHandler(eventRouter *router.Router, cfg Config) *Handler {
	return &Handler{
		eventRouter: eventRouter,
		cfg:         cfg,
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// drops.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.cfg.WriteTimeout)
	log.Printf("websocket: connected id=%s remote=%s", wsConn.ID(), r.RemoteAddr)

	go h.readPump(wsConn)
}

// readPump reads events off the wire in order and hands each one to the
// router, so events from a single connection are processed FIFO. A
// transport-level disconnect is routed as a leave.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.eventRouter.HandleDisconnect(conn)
		_ = conn.Close()
		log.Printf("websocket: disconnected id=%s", conn.ID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error id=%s: %v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("websocket: dropping malformed frame id=%s: %v", conn.ID(), err)
			continue
		}

		h.eventRouter.HandleEvent(context.Background(), conn, event)
	}
}
