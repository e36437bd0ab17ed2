package handlers

import (
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"amayadori/internal/services"
)

// WSHandler streams bus events (matched, peer_left, room_closed, messages) to
// the client over a WebSocket, replacing snapshot-listener push.
type WSHandler struct {
	bus     *services.EventBus
	metrics *services.Metrics
}

func NewWSHandler(bus *services.EventBus, metrics *services.Metrics) *WSHandler {
	return &WSHandler{bus: bus, metrics: metrics}
}

const (
	wsSubscriberBuffer = 32
	wsPingInterval     = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// Upgrade gates non-WebSocket requests before the connection handler runs.
// Auth middleware has already resolved user_id from the token query param.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Stream is the /ws connection handler.
func (h *WSHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals("user_id").(string)
		if uid == "" {
			conn.Close()
			return
		}

		subID := uuid.NewString()
		events := h.bus.Subscribe(uid, subID, wsSubscriberBuffer)
		defer h.bus.Unsubscribe(uid, subID)

		h.metrics.WebSocketConnections.Inc()
		defer h.metrics.WebSocketConnections.Dec()

		// Reader only consumes control frames; client-to-server traffic goes
		// over the REST API. A read error is the disconnect signal.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("⚠️ [WS] write failed for %s: %v", uid, err)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
