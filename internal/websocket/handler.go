package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs registers the connection, optionally queues an initial message and
// blocks until the peer goes away.
func ServeWs(hub *Hub, conn *websocket.Conn, sessionID string, initial []byte) {
	client := NewClient(hub, conn, sessionID)
	if len(initial) > 0 {
		client.Send <- initial
	}
	hub.Register(client)

	go client.writePump()
	client.readPump()
}
