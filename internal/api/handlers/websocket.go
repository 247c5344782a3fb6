package handlers

import (
	"net/http"

	"github.com/TheGojiOG/CfxSM/internal/api/middleware"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	ws "github.com/TheGojiOG/CfxSM/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Greeting is sent to a client right after it joins a room
type Greeting func() (msgType string, payload interface{})

type WebSocketHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
}

func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, allowedOrigins: allowedOrigins}
}

// Serve upgrades the request and subscribes the connection to room.
// greeting may be nil.
func (h *WebSocketHandler) Serve(room string, greeting Greeting) gin.HandlerFunc {
	return func(c *gin.Context) {
		upgrader := buildUpgrader(h.allowedOrigins)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the error response
			logging.L().Warn("websocket_upgrade_failed",
				"room", room,
				"origin", c.Request.Header.Get("Origin"),
				"error", err,
			)
			return
		}

		client := ws.NewClient(h.hub, conn, room)
		h.hub.Register <- client

		if greeting != nil {
			msgType, payload := greeting()
			if err := client.SendMessage(msgType, payload); err != nil {
				logging.L().Warn("websocket_greeting_failed", "client_id", client.ID, "error", err)
			}
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
