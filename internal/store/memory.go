package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/johndosdos/messenger/internal/model"
)

// MemoryStore keeps messages in process memory. Ids start at 1.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    *monotonicClock
	nextID   int64
	messages map[int64]model.Message
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		clock:    newMonotonicClock(now),
		nextID:   1,
		messages: make(map[int64]model.Message),
	}
}

func (s *MemoryStore) Create(ctx context.Context, senderID, recipientID int64, body string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if senderID == recipientID {
		return model.Message{}, ErrSelfMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := model.Message{
		ID:          s.nextID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   s.clock.Next(),
	}
	s.messages[m.ID] = m
	s.nextID++

	return m, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b model.Message) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
