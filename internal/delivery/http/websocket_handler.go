package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development; restrict in production
	},
}

// WebSocketHandler upgrades client connections and registers them with the
// result relay hub under the caller-chosen stable client identifier.
type WebSocketHandler struct {
	hub    *relay.Hub
	logger *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *relay.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

// Stream handles GET /api/v1/ws?client_id= (WebSocket upgrade)
func (h *WebSocketHandler) Stream(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing client_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.Register(clientID, conn)
	defer func() {
		h.hub.Unregister(clientID, conn)
		conn.Close()
	}()

	h.logger.Debug("WebSocket connection opened", zap.String("client_id", clientID))

	// The channel is push-only; reads exist to observe disconnects and to
	// service control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("WebSocket closed",
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			return
		}
	}
}
