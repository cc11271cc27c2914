package websocket

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

// Conn is the transport a session reads inbound frames from and writes
// outbound frames to.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ErrBinaryFrame is returned by Read for a binary message. The session
// answers it like any other malformed frame and keeps reading.
var ErrBinaryFrame = errors.New("internal/websocket: binary frame")

type wsConn struct {
	conn *websocket.Conn
}

// NewConn adapts an accepted websocket connection. Inbound messages larger
// than readLimit bytes close the connection.
func NewConn(conn *websocket.Conn, readLimit int64) Conn {
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn}
}

// Read returns the next text message, or ErrBinaryFrame for a binary one.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	msgType, p, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if msgType != websocket.MessageText {
		return nil, ErrBinaryFrame
	}
	return p, nil
}

func (c *wsConn) Write(ctx context.Context, p []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, p)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}
