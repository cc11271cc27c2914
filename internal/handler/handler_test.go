package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/messenger/internal/auth"
	"github.com/johndosdos/messenger/internal/frame"
	"github.com/johndosdos/messenger/internal/model"
	ratelimiter "github.com/johndosdos/messenger/internal/rate_limiter"
	"github.com/johndosdos/messenger/internal/store"
	ws "github.com/johndosdos/messenger/internal/websocket"
)

type resolver map[string]model.Profile

func (r resolver) ProfileByToken(_ context.Context, token string) (model.Profile, error) {
	p, ok := r[token]
	if !ok {
		return model.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

func (r resolver) ProfileByID(_ context.Context, id int64) (model.Profile, error) {
	for _, p := range r {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Profile{}, auth.ErrNotFound
}

var users = resolver{
	"alice-token": {ID: 1, Username: "alice", Avatar: "a.png"},
	"bob-token":   {ID: 2, Username: "bob", Avatar: "b.png"},
}

func newServer(t *testing.T, limiter *ratelimiter.IPRateLimiter) (*httptest.Server, *ws.Hub, store.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	hub := ws.NewHub(users, st, ws.Options{}, log)

	srv := httptest.NewServer(NewRouter(hub, RouterOpts{ReadLimit: 4096, Limiter: limiter}, log))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return srv, hub, st
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + token
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) frame.Envelope {
	t.Helper()
	_, p, err := c.Read(ctx)
	require.NoError(t, err)
	env, err := frame.DecodeEnvelope(p)
	require.NoError(t, err)
	return env
}

func TestServeWs_Exchange(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, hub, st := newServer(t, nil)

	alice := dial(t, ctx, srv, "alice-token")
	bob := dial(t, ctx, srv, "bob-token")
	req.Eventually(func() bool {
		conns, _ := hub.Stats()
		return conns == 2
	}, 2*time.Second, 5*time.Millisecond)

	payload, err := frame.EncodeRequest(frame.Request{Msg: "Hello world!", RecipientID: 2})
	req.NoError(err)
	req.NoError(alice.Write(ctx, websocket.MessageText, payload))

	ack := readFrame(t, ctx, alice)
	req.Equal(frame.TypeSuccess, ack.Type)
	req.JSONEq(`{"msg":"Message has been send"}`, string(ack.Data))

	own := readFrame(t, ctx, alice)
	req.Equal(frame.TypeMessage, own.Type)

	got := readFrame(t, ctx, bob)
	req.Equal(frame.TypeMessage, got.Type)
	req.JSONEq(string(own.Data), string(got.Data))

	var data struct {
		ID        int64  `json:"id"`
		SenderID  int64  `json:"sender_id"`
		Msg       string `json:"msg"`
		CreatedAt string `json:"created_at"`
		Sender    struct {
			Username string `json:"username"`
		} `json:"sender"`
	}
	req.NoError(json.Unmarshal(got.Data, &data))
	req.Equal(int64(1), data.ID)
	req.Equal(int64(1), data.SenderID)
	req.Equal("alice", data.Sender.Username)
	req.True(strings.HasSuffix(data.CreatedAt, "Z"))

	all, err := st.All(ctx)
	req.NoError(err)
	req.Len(all, 1)
}

func TestServeWs_Unknown_Token(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, hub, _ := newServer(t, nil)

	c := dial(t, ctx, srv, "stolen-token")

	env := readFrame(t, ctx, c)
	req.Equal(frame.TypeError, env.Type)
	req.JSONEq(`{"msg":"User not found"}`, string(env.Data))

	_, _, err := c.Read(ctx)
	req.Equal(websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	conns, _ := hub.Stats()
	req.Zero(conns)
}

func TestServeWs_Binary_Frame(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _, st := newServer(t, nil)

	alice := dial(t, ctx, srv, "alice-token")

	// A well-formed request sent as binary is still rejected
	payload, err := frame.EncodeRequest(frame.Request{Msg: "Hello world!", RecipientID: 2})
	req.NoError(err)
	req.NoError(alice.Write(ctx, websocket.MessageBinary, payload))

	env := readFrame(t, ctx, alice)
	req.Equal(frame.TypeError, env.Type)
	req.JSONEq(`{"msg":"Invalid data"}`, string(env.Data))

	// And the session keeps serving text frames
	req.NoError(alice.Write(ctx, websocket.MessageText, payload))
	req.Equal(frame.TypeSuccess, readFrame(t, ctx, alice).Type)

	all, err := st.All(ctx)
	req.NoError(err)
	req.Len(all, 1)
}

func TestServeWs_Handshake_Rate_Limit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := ratelimiter.NewIPRateLimiter(1, time.Hour,
		ratelimiter.CleanupOpts{TTL: time.Hour, Interval: time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(limiter.Stop)
	srv, _, _ := newServer(t, limiter)

	dial(t, ctx, srv, "alice-token")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alice-token"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServeHealth(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, hub, _ := newServer(t, nil)

	dial(t, ctx, srv, "alice-token")
	dial(t, ctx, srv, "alice-token")
	req.Eventually(func() bool {
		conns, _ := hub.Stats()
		return conns == 2
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.JSONEq(`{"status":"ok","connections":2,"users":1}`, string(body))
}
