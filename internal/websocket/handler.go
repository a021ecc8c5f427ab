package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iiifstudio/backend/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The studio UI and API are served from the same host
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		log: logger.Default().WithComponent("websocket"),
	}
}

// ServeWS upgrades the request and registers the client with the hub
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(context.Background(), "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetHub returns the hub instance for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}
