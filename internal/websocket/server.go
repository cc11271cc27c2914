package websocket

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/johndosdos/messenger/internal/frame"
	"github.com/johndosdos/messenger/internal/model"
	"github.com/johndosdos/messenger/internal/store"
)

// Texts of the notices sent to clients.
const (
	MsgSent              = "Message has been send"
	MsgNotSent           = "Message has not been send"
	MsgUserNotFound      = "User not found"
	MsgRecipientNotFound = "Recipient not found"
	MsgSelfMessage       = "User can't send yourself message"
	MsgInvalidData       = "Invalid data"
	MsgTooManyMessages   = "Too many messages"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthFailed
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

type session struct {
	hub     *Hub
	conn    Conn
	state   State
	profile model.Profile
	client  *Client
	log     *slog.Logger
}

func (s *session) setState(st State) {
	s.log.Debug("session state", "from", s.state.String(), "to", st.String())
	s.state = st
}

// Serve runs one session on conn until the transport closes, ctx is
// cancelled or the hub shuts down. The token is checked once, before
// anything else happens on the connection. Serve returns the terminal state.
func (h *Hub) Serve(ctx context.Context, conn Conn, token string) State {
	s := &session{hub: h, conn: conn, state: StateConnecting, log: h.log}

	if !h.admit() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return StateClosing
	}
	defer h.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	s.setState(StateAuthenticating)
	profile, err := h.resolver.ProfileByToken(ctx, token)
	if err != nil {
		s.setState(StateAuthFailed)
		s.log.InfoContext(ctx, "authentication failed", "error", err)
		s.rejectAuth(ctx)
		return StateAuthFailed
	}

	s.profile = profile
	s.client = NewClient(conn, profile.ID, h.opts.SendBufferSize, h.opts.WriteTimeout, h.log)
	if h.opts.MessageRate > 0 {
		s.client.SetMessageLimiter(h.opts.MessageRate, h.opts.MessageWindow)
	}
	s.log = s.client.log

	h.registry.Register(profile.ID, s.client)
	s.setState(StateActive)
	defer func() {
		h.registry.Unregister(profile.ID, s.client)
		s.client.Close(websocket.StatusNormalClosure, "")
		s.setState(StateClosing)
	}()

	go s.client.WriteMessage(ctx)
	s.readMessages(ctx)

	return StateClosing
}

// rejectAuth writes the auth error straight to the connection; the session
// never gets a Client and is never registered.
func (s *session) rejectAuth(ctx context.Context) {
	payload, err := frame.Encode(frame.Error(MsgUserNotFound))
	if err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, s.hub.opts.WriteTimeout)
		if err := s.conn.Write(writeCtx, payload); err != nil {
			s.log.DebugContext(ctx, "failed to write auth error", "error", err)
		}
		cancel()
	}
	_ = s.conn.Close(websocket.StatusPolicyViolation, MsgUserNotFound)
}

func (s *session) readMessages(ctx context.Context) {
	for {
		p, err := s.conn.Read(ctx)
		if errors.Is(err, ErrBinaryFrame) {
			// Nil never decodes, so it is answered with "Invalid data".
			p, err = nil, nil
		}
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				s.log.WarnContext(ctx, "read failed", "error", err)
			}
			return
		}

		s.handle(ctx, p)

		select {
		case <-s.client.Done():
			return
		default:
		}
	}
}

// handle processes one inbound frame. Every failure is answered with a single
// ERROR frame and leaves the session active.
func (s *session) handle(ctx context.Context, p []byte) {
	if !s.client.AllowMessage() {
		s.reply(frame.Error(MsgTooManyMessages))
		return
	}

	req, err := frame.DecodeRequest(p)
	if err != nil {
		s.log.DebugContext(ctx, "rejected inbound frame", "error", err)
		s.reply(frame.Error(MsgInvalidData))
		return
	}

	if req.RecipientID == s.profile.ID {
		s.reply(frame.Error(MsgSelfMessage))
		return
	}

	if _, err := s.hub.resolver.ProfileByID(ctx, req.RecipientID); err != nil {
		s.log.DebugContext(ctx, "recipient lookup failed",
			"recipient_id", req.RecipientID,
			"error", err)
		s.reply(frame.Error(MsgRecipientNotFound))
		return
	}

	body := req.Msg
	if s.hub.sanitizer != nil {
		body = s.hub.sanitizer.Sanitize(body)
	}

	m, err := s.hub.store.Create(ctx, s.profile.ID, req.RecipientID, body)
	if err != nil {
		if errors.Is(err, store.ErrSelfMessage) {
			s.reply(frame.Error(MsgSelfMessage))
			return
		}
		s.log.ErrorContext(ctx, "failed to store message",
			"recipient_id", req.RecipientID,
			"error", err)
		s.reply(frame.Error(MsgNotSent))
		return
	}

	s.reply(frame.Success(MsgSent))

	payload, err := frame.Encode(frame.Message(m, s.profile))
	if err != nil {
		s.log.ErrorContext(ctx, "failed to encode message frame",
			"message_id", m.ID,
			"error", err)
		return
	}
	s.hub.deliver(payload, m.SenderID, m.RecipientID)

	if s.hub.relay != nil {
		if err := s.hub.relay.Publish(ctx, m.SenderID, m.RecipientID, payload); err != nil {
			s.log.WarnContext(ctx, "failed to relay message",
				"message_id", m.ID,
				"error", err)
		}
	}
}

// reply queues f on this session's own connection only.
func (s *session) reply(f frame.Frame) {
	payload, err := frame.Encode(f)
	if err != nil {
		s.log.Error("failed to encode frame", "error", err)
		return
	}
	if !s.client.Send(payload) {
		s.hub.drop(s.client)
	}
}
