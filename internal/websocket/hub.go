// Package websocket drives chat sessions over persistent connections and fans
// delivered messages out to every live connection of the users involved.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/johndosdos/messenger/internal/auth"
	"github.com/johndosdos/messenger/internal/registry"
	"github.com/johndosdos/messenger/internal/store"
)

type sanitizer interface {
	Sanitize(s string) string
}

// Relay forwards a delivered MESSAGE frame to other gateway nodes.
type Relay interface {
	Publish(ctx context.Context, senderID, recipientID int64, payload []byte) error
}

type Options struct {
	SendBufferSize int
	WriteTimeout   time.Duration
	// MessageRate inbound frames per MessageWindow per connection; 0 disables
	// the limit.
	MessageRate   int
	MessageWindow time.Duration
	Sanitize      bool
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MessageWindow <= 0 {
		o.MessageWindow = time.Minute
	}
	return o
}

// Hub owns the connection registry and the collaborators every session uses.
type Hub struct {
	registry  *registry.Registry[*Client]
	resolver  auth.Resolver
	store     store.Store
	relay     Relay
	sanitizer sanitizer
	opts      Options
	log       *slog.Logger

	// ctx is cancelled by Shutdown and ends every running session.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
	active   atomic.Int64
}

// NewHub returns a new instance of Hub.
func NewHub(resolver auth.Resolver, st store.Store, opts Options, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry: registry.New[*Client](),
		resolver: resolver,
		store:    st,
		opts:     opts.withDefaults(),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	if h.opts.Sanitize {
		h.sanitizer = bluemonday.StrictPolicy()
	}
	return h
}

// SetRelay makes the hub publish every delivered message through r.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// deliver queues payload on every connection of userIDs. The connections are
// snapshotted before the first send; a connection whose queue is full or
// closed is dropped without affecting the others.
func (h *Hub) deliver(payload []byte, userIDs ...int64) int {
	var targets []*Client
	for _, id := range lo.Uniq(userIDs) {
		targets = append(targets, h.registry.ConnectionsFor(id)...)
	}

	delivered := 0
	for _, c := range targets {
		if c.Send(payload) {
			delivered++
			continue
		}
		h.drop(c)
	}
	return delivered
}

// DeliverLocal hands a frame received from another node to the local
// connections of userIDs.
func (h *Hub) DeliverLocal(payload []byte, userIDs ...int64) int {
	return h.deliver(payload, userIDs...)
}

// drop unregisters c and closes it without waiting, so fan-out to the other
// targets carries on.
func (h *Hub) drop(c *Client) {
	h.registry.Unregister(c.UserID, c)
	c.CloseAsync(websocket.StatusTryAgainLater, "client too slow")
	c.log.Warn("dropped slow connection")
}

// Stats returns the number of registered connections and connected users.
func (h *Hub) Stats() (connections, users int) {
	return h.registry.Len(), h.registry.Users()
}

// admit tracks a new session unless the hub is shutting down.
func (h *Hub) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	h.active.Add(1)
	return true
}

func (h *Hub) release() {
	h.active.Add(-1)
	h.sessions.Done()
}

// Shutdown refuses new sessions, closes every registered connection in
// parallel and waits for sessions and closing handshakes to finish or ctx to
// expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	var (
		closers sync.WaitGroup
		pending atomic.Int64
	)
	for _, c := range h.registry.All() {
		if !c.markClosed() {
			continue
		}
		closers.Add(1)
		pending.Add(1)
		go func() {
			defer closers.Done()
			defer pending.Add(-1)
			c.closeConn(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		closers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("internal/websocket: shutdown incomplete, %d sessions running, %d connections closing: %w",
			h.active.Load(), pending.Load(), ctx.Err())
	}
}
