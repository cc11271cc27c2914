// Package handler exposes the gateway over HTTP.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/messenger/internal"
	ratelimiter "github.com/johndosdos/messenger/internal/rate_limiter"
	ws "github.com/johndosdos/messenger/internal/websocket"
)

type RouterOpts struct {
	ReadLimit int64
	// Limiter guards the handshake; nil disables it.
	Limiter *ratelimiter.IPRateLimiter
}

func NewRouter(h *ws.Hub, opts RouterOpts, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(internal.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", ServeHealth(h))

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Get("/ws/{token}", ServeWs(h, opts.ReadLimit, log))
	})

	return r
}
