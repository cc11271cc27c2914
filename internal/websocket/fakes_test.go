package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/messenger/internal/auth"
	"github.com/johndosdos/messenger/internal/frame"
	"github.com/johndosdos/messenger/internal/model"
	"github.com/johndosdos/messenger/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Conn. Frames pushed with send are returned by
// Read, a nil frame stands for a binary message; frames the server writes are
// recorded.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	// stall makes every Write block until the write deadline or Close.
	stall bool
	// hang, when set, keeps Close from returning until it is closed, like a
	// peer that never answers the closing handshake.
	hang chan struct{}

	mu     sync.Mutex
	out    [][]byte
	status websocket.StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
		status: -1,
	}
}

// newHangingConn returns a fakeConn whose Close marks it closed but blocks
// until the test ends.
func newHangingConn(t *testing.T) *fakeConn {
	c := newFakeConn()
	c.hang = make(chan struct{})
	t.Cleanup(func() { close(c.hang) })
	return c
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.in:
		if p == nil {
			return nil, ErrBinaryFrame
		}
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, p []byte) error {
	if c.stall {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return io.ErrClosedPipe
		}
	}

	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, p)
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = code
		c.mu.Unlock()
		close(c.closed)
	})
	if c.hang != nil {
		<-c.hang
	}
	return nil
}

func (c *fakeConn) send(t *testing.T, payload string) {
	t.Helper()
	select {
	case c.in <- []byte(payload):
	case <-c.closed:
		t.Fatal("send on closed connection")
	}
}

// sendBinary makes Read report a binary frame.
func (c *fakeConn) sendBinary(t *testing.T) {
	t.Helper()
	select {
	case c.in <- nil:
	case <-c.closed:
		t.Fatal("send on closed connection")
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) closeStatus() websocket.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) frames(t *testing.T) []frame.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]frame.Envelope, 0, len(c.out))
	for _, p := range c.out {
		env, err := frame.DecodeEnvelope(p)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ frame.Type) int {
	n := 0
	for _, env := range c.frames(t) {
		if env.Type == typ {
			n++
		}
	}
	return n
}

// fakeResolver knows a fixed set of users; user N has token "token-N".
type fakeResolver struct {
	byToken map[string]model.Profile
	byID    map[int64]model.Profile
}

func newFakeResolver(profiles ...model.Profile) *fakeResolver {
	r := &fakeResolver{byToken: map[string]model.Profile{}, byID: map[int64]model.Profile{}}
	for _, p := range profiles {
		r.byToken[tokenFor(p.ID)] = p
		r.byID[p.ID] = p
	}
	return r
}

func (r *fakeResolver) ProfileByToken(_ context.Context, token string) (model.Profile, error) {
	p, ok := r.byToken[token]
	if !ok {
		return model.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

func (r *fakeResolver) ProfileByID(_ context.Context, id int64) (model.Profile, error) {
	p, ok := r.byID[id]
	if !ok {
		return model.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

// failingStore rejects every Create.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Create(context.Context, int64, int64, string) (model.Message, error) {
	return model.Message{}, errors.New("connection reset by peer")
}

type publish struct {
	senderID, recipientID int64
	payload               []byte
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []publish
	err   error
}

func (r *fakeRelay) Publish(_ context.Context, senderID, recipientID int64, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, publish{senderID, recipientID, payload})
	return r.err
}

func (r *fakeRelay) published() []publish {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publish(nil), r.calls...)
}
