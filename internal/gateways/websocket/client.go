package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	hub    *Hub
	conn   ClientConn
	ID     string
	UserID string

	// streams is only touched by the hub goroutine.
	streams map[string]bool

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn ClientConn, userID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		ID:      generateClientID(),
		UserID:  userID,
		streams: make(map[string]bool),
		send:    make(chan []byte, sendQueueSize),
	}
}

// enqueue queues data for the write loop without blocking. It returns false
// when the client is closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writeLoop() {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.hub.logger.Debugw("WebSocket write failed", "client_id", c.ID, "error", err)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}
