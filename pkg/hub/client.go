package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages; clients only send control frames
	maxMessageSize = 4 * 1024
)

// Conn is the part of a websocket connection a Client uses. Connections
// from github.com/gofiber/websocket/v2 and github.com/gofiber/contrib/websocket
// both satisfy it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single websocket connection
type Client struct {
	id   uuid.UUID
	hub  *Hub
	conn Conn
	send chan Message
}

// NewClient creates a client and registers it with the hub. If the hub has
// stopped, the client is created already closed and Run returns at once.
func NewClient(hub *Hub, conn Conn) *Client {
	client := &Client{
		id:   uuid.New(),
		hub:  hub,
		conn: conn,
		send: make(chan Message, DefaultQueueSize),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		close(client.send)
	}
	return client
}

// ID returns the client id used in logs.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Run starts the write pump and blocks in the read pump until the
// connection closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump detects disconnection and keeps pong deadlines fresh
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine writing to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
