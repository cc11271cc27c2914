package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/johndosdos/messenger/internal/model"
)

const (
	messagePrefix = "msg:"
	sequenceKey   = "seq:messages"
)

// BadgerStore keeps messages in an embedded Badger database. Keys are
// zero-padded ids so that prefix iteration yields messages in id order.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	clock *monotonicClock
	log   *slog.Logger

	// mu keeps id order and created_at order in step.
	mu sync.Mutex
}

type diskMessage struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// OpenBadger opens (or creates) a database in dir.
func OpenBadger(dir string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("internal/store: open badger: %w", err)
	}
	s, err := NewBadgerStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStore uses an already open database. Close releases the database too.
func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), 100)
	if err != nil {
		return nil, fmt.Errorf("internal/store: message sequence: %w", err)
	}
	return &BadgerStore{
		db:    db,
		seq:   seq,
		clock: newMonotonicClock(time.Now),
		log:   log,
	}, nil
}

func messageKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%019d", messagePrefix, id))
}

func (s *BadgerStore) Create(ctx context.Context, senderID, recipientID int64, body string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if senderID == recipientID {
		return model.Message{}, ErrSelfMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Badger sequences start at 0.
	n, err := s.seq.Next()
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: next message id: %w", err)
	}

	m := diskMessage{
		ID:          int64(n) + 1,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   s.clock.Next(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: marshal message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(m.ID), data)
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: write message: %w", err)
	}

	return m.toModel(), nil
}

func (s *BadgerStore) Get(ctx context.Context, id int64) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	var m diskMessage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: read message %d: %w", id, err)
	}
	return m.toModel(), nil
}

func (s *BadgerStore) All(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []model.Message{}
	prefix := []byte(messagePrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var m diskMessage
				if err := json.Unmarshal(v, &m); err != nil {
					return fmt.Errorf("failed to unmarshal message: %w", err)
				}
				out = append(out, m.toModel())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("internal/store: list messages: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("could not release message sequence", "error", err)
	}
	return s.db.Close()
}

func (m diskMessage) toModel() model.Message {
	return model.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Body:        m.Body,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}
