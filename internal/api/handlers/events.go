package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/network-backup-manager/internal/api/middleware"
	"github.com/yourusername/network-backup-manager/internal/websocket"
)

// EventsHandler streams job and sync events over websocket
type EventsHandler struct {
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *websocket.Hub, allowedOrigins []string) *EventsHandler {
	return &EventsHandler{hub: hub, upgrader: buildUpgrader(allowedOrigins)}
}

func buildUpgrader(allowedOrigins []string) gorillaws.Upgrader {
	return gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

// Stream upgrades the connection. ?equipment_id= narrows the stream to one
// equipment; without it every event is sent.
func (h *EventsHandler) Stream(c *gin.Context) {
	room := c.Query("equipment_id")
	if room == "" {
		room = websocket.AllEquipment
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Events] Failed to upgrade connection: %v", err)
		return
	}

	client := &websocket.Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Room: room,
		Send: make(chan *websocket.Message, 64),
		Hub:  h.hub,
	}
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	_ = client.SendMessage("subscribed", gin.H{"room": room})
}
