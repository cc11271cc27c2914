// Package frame encodes and decodes the JSON frames exchanged with chat clients.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/johndosdos/messenger/internal/model"
)

// Type discriminates outbound frames.
type Type string

const (
	TypeSuccess Type = "SUCCESS"
	TypeError   Type = "ERROR"
	TypeMessage Type = "MESSAGE"
)

// ErrInvalidData is returned for any inbound payload that does not match
// {"msg": string, "recipient_id": integer}.
var ErrInvalidData = errors.New("frame: invalid data")

// Frame is one outbound server frame.
type Frame struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Notice is the payload of SUCCESS and ERROR frames.
type Notice struct {
	Msg string `json:"msg"`
}

// Sender is the profile embedded in MESSAGE frames.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// MessageData is the payload of MESSAGE frames.
type MessageData struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Msg         string    `json:"msg"`
	CreatedAt   Timestamp `json:"created_at"`
	Sender      Sender    `json:"sender"`
}

func Success(msg string) Frame {
	return Frame{Type: TypeSuccess, Data: Notice{Msg: msg}}
}

func Error(msg string) Frame {
	return Frame{Type: TypeError, Data: Notice{Msg: msg}}
}

// Message builds the frame delivered to every connection of both parties.
// The embedded profile is always the sender's.
func Message(m model.Message, sender model.Profile) Frame {
	return Frame{
		Type: TypeMessage,
		Data: MessageData{
			ID:          m.ID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Msg:         m.Body,
			CreatedAt:   Timestamp(m.CreatedAt),
			Sender: Sender{
				ID:       sender.ID,
				Username: sender.Username,
				Avatar:   sender.Avatar,
			},
		},
	}
}

// Encode serializes f to its wire form.
func Encode(f Frame) ([]byte, error) {
	p, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("frame: could not encode %s frame: %w", f.Type, err)
	}
	return p, nil
}

// Envelope is an outbound frame as seen by a client, with the payload left
// undecoded until the type is known.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a server frame on the client side.
func DecodeEnvelope(p []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return Envelope{}, fmt.Errorf("frame: could not decode envelope: %w", err)
	}
	return env, nil
}

// Request is a validated inbound frame.
type Request struct {
	Msg         string
	RecipientID int64
}

type inbound struct {
	Msg         *string `json:"msg"`
	RecipientID *int64  `json:"recipient_id"`
}

// DecodeRequest strictly parses a client frame. Missing fields, nulls, wrong
// types and non-object payloads all yield ErrInvalidData. Unknown fields are
// ignored.
func DecodeRequest(p []byte) (Request, error) {
	var in inbound
	if err := json.Unmarshal(p, &in); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if in.Msg == nil || in.RecipientID == nil {
		return Request{}, ErrInvalidData
	}
	return Request{Msg: *in.Msg, RecipientID: *in.RecipientID}, nil
}

// EncodeRequest is the client-side counterpart of DecodeRequest.
func EncodeRequest(r Request) ([]byte, error) {
	return json.Marshal(inbound{Msg: &r.Msg, RecipientID: &r.RecipientID})
}

const timestampLayout = "2006-01-02T15:04:05.999999Z"

// Timestamp renders as a UTC ISO-8601 string with a trailing Z, keeping
// microseconds only when they are non-zero.
type Timestamp time.Time

func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(timestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(p []byte) error {
	var s string
	if err := json.Unmarshal(p, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("frame: invalid created_at %q: %w", s, err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}
