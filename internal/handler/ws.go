package handler

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	ws "github.com/johndosdos/messenger/internal/websocket"
)

// ServeWs upgrades /ws/{token} and runs the chat session on the connection.
// The token is taken from the path only and checked once by the hub.
func ServeWs(h *ws.Hub, readLimit int64, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.WarnContext(r.Context(), "failed to upgrade connection", "error", err)
			return
		}

		// We block on Serve because the request context is canceled as soon
		// as we return from the handler.
		state := h.Serve(r.Context(), ws.NewConn(conn, readLimit), token)
		log.DebugContext(r.Context(), "session ended", "state", state.String())
	}
}
