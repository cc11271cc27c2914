package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client is one live connection of an authenticated user. Outbound frames
// are queued with Send and written by WriteMessage, so a slow peer never
// blocks the goroutine that fans a message out.
type Client struct {
	ID     uuid.UUID
	UserID int64

	conn         Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	messageLim   *rate.Limiter
	log          *slog.Logger
}

func NewClient(conn Conn, userID int64, bufferSize int, writeTimeout time.Duration, log *slog.Logger) *Client {
	id := uuid.New()
	return &Client{
		ID:           id,
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log.With("conn_id", id.String(), "user_id", userID),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	c.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// AllowMessage reports whether another inbound frame may be processed now.
func (c *Client) AllowMessage() bool {
	return c.messageLim == nil || c.messageLim.Allow()
}

// Send queues p without blocking. It returns false when the queue is full or
// the client is closed.
func (c *Client) Send(p []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- p:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying connection once and waits for the closing
// handshake. Frames still queued are dropped.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	if c.markClosed() {
		c.closeConn(code, reason)
	}
}

// CloseAsync marks the client closed at once and runs the closing handshake
// in the background. A peer that never answers the close frame can hold the
// handshake for seconds.
func (c *Client) CloseAsync(code websocket.StatusCode, reason string) {
	if c.markClosed() {
		go c.closeConn(code, reason)
	}
}

// markClosed closes done and reports whether this call was the one that did.
func (c *Client) markClosed() bool {
	first := false
	c.closeOnce.Do(func() {
		close(c.done)
		first = true
	})
	return first
}

func (c *Client) closeConn(code websocket.StatusCode, reason string) {
	if err := c.conn.Close(code, reason); err != nil {
		c.log.Debug("close connection", "error", err)
	}
}

// WriteMessage writes queued frames to the connection until the client is
// closed or ctx is cancelled.
func (c *Client) WriteMessage(ctx context.Context) {
	for {
		select {
		case payload := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.conn.Write(writeCtx, payload)
			cancel()
			if err != nil {
				c.log.WarnContext(ctx, "failed to write frame",
					"error", err)
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}

		case <-c.done:
			return

		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
