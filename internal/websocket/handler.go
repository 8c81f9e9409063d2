package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs attaches an upgraded connection to the hub and blocks until the
// peer disconnects.
func ServeWs(hub *Hub, c *websocket.Conn, userID, role string) {
	client := &Client{Hub: hub, Conn: c, UserID: userID, Role: role, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // runs in the handler goroutine
}
