package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/lo"

	"github.com/johndosdos/messenger/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const checkViolation = "23514"

// PostgresStore keeps messages in the messages table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock *monotonicClock
	// mu spans clock and INSERT so that BIGSERIAL order matches created_at
	// order.
	mu sync.Mutex
}

// NewPostgresStore wraps an open pool. Call Migrate before first use on a fresh
// database.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, clock: newMonotonicClock(time.Now)}
}

// OpenPostgres connects to dbURL, runs pending migrations and returns the store.
func OpenPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("internal/store: could not connect to the postgresql database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("internal/store: could not reach the postgresql database: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return MigrateUp(ctx, s.pool)
}

func MigrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("internal/store: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("internal/store: goose up: %w", err)
	}
	return nil
}

func MigrateReset(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("internal/store: goose dialect: %w", err)
	}
	if err := goose.ResetContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("internal/store: goose reset: %w", err)
	}
	return nil
}

const createMessage = `
INSERT INTO messages (sender_id, recipient_id, body, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`

func (s *PostgresStore) Create(ctx context.Context, senderID, recipientID int64, body string) (model.Message, error) {
	if senderID == recipientID {
		return model.Message{}, ErrSelfMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := model.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   s.clock.Next(),
	}
	err := s.pool.QueryRow(ctx, createMessage, senderID, recipientID, body, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return model.Message{}, ErrSelfMessage
		}
		return model.Message{}, fmt.Errorf("internal/store: insert message: %w", err)
	}
	return m, nil
}

const getMessage = `
SELECT id, sender_id, recipient_id, body, created_at
FROM messages
WHERE id = $1`

func (s *PostgresStore) Get(ctx context.Context, id int64) (model.Message, error) {
	rows, err := s.pool.Query(ctx, getMessage, id)
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: get message: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[messageRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/store: get message: %w", err)
	}
	return m.toModel(), nil
}

const listMessages = `
SELECT id, sender_id, recipient_id, body, created_at
FROM messages
ORDER BY id`

func (s *PostgresStore) All(ctx context.Context) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, listMessages)
	if err != nil {
		return nil, fmt.Errorf("internal/store: list messages: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[messageRow])
	if err != nil {
		return nil, fmt.Errorf("internal/store: list messages: %w", err)
	}
	return lo.Map(found, func(r messageRow, _ int) model.Message { return r.toModel() }), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type messageRow struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Body        string
	CreatedAt   time.Time
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:          r.ID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}
