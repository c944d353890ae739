package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/dialcheck/dialcheck/internal/log"
)

const (
	// writeTimeout bounds each outbound write.
	writeTimeout = 10 * time.Second

	// pongTimeout is how long a monitor may go without answering a ping.
	pongTimeout = 60 * time.Second

	// pingInterval must be shorter than pongTimeout.
	pingInterval = (pongTimeout * 9) / 10

	// maxInboundSize caps inbound frames. Monitors are observers; anything
	// beyond a control frame is already a protocol violation.
	maxInboundSize = 1024
)

// Client is one monitoring connection. Monitors only receive: call events
// as JSON and audio taps as binary. A monitor that sends an application
// message is disconnected.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers a monitoring connection with the hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
	}
	hub.register <- c
	return c
}

// Run serves the connection until it closes. Called from the websocket
// handler; the write side runs in its own goroutine so only one goroutine
// ever writes to the connection.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop watches for disconnection and pong replies. Monitors have no
// inbound protocol, so any application message ends the session.
func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		msgType, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		log.Warn("monitor sent an application message, closing",
			"hub", c.hub.name, "message_type", msgType)
		return
	}
}

// writeLoop drains the send channel and keeps the connection alive with
// pings. It exits when the hub closes the channel or a write fails.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub detached this client.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
				log.Debug("monitor write failed", "hub", c.hub.name, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
