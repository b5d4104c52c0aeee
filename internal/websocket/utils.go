package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes so the read loop and server pushes can share one socket.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap adopts an upgraded connection.
func Wrap(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadRequest reads and decodes one client message. It sets a read deadline.
func (c *Conn) ReadRequest(v *RequestPayload) error {
	_ = c.SetReadDeadline(time.Now().Add(readWait))
	return c.ReadJSON(v)
}
