// Package store persists direct messages.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johndosdos/messenger/internal/model"
)

var (
	ErrNotFound    = errors.New("internal/store: message not found")
	ErrSelfMessage = errors.New("internal/store: sender and recipient are the same user")
)

// Store is the persistence capability used by chat sessions.
type Store interface {
	// Create persists a new message and assigns its id and creation time.
	Create(ctx context.Context, senderID, recipientID int64, body string) (model.Message, error)
	Get(ctx context.Context, id int64) (model.Message, error)
	// All returns every message ordered by id.
	All(ctx context.Context) ([]model.Message, error)
	Close() error
}

// monotonicClock hands out creation times that never go backwards within one
// store instance, truncated to the microsecond precision Postgres keeps.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
