package frame

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/messenger/internal/model"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Request
		wantErr bool
	}{
		{"valid", `{"msg":"Hello world!","recipient_id":2}`, Request{Msg: "Hello world!", RecipientID: 2}, false},
		{"extra_field_ignored", `{"msg":"hi","recipient_id":2,"sender_id":99}`, Request{Msg: "hi", RecipientID: 2}, false},
		{"empty_msg", `{"msg":"","recipient_id":3}`, Request{Msg: "", RecipientID: 3}, false},
		{"missing_recipient", `{"msg":"Hello world!"}`, Request{}, true},
		{"missing_msg", `{"recipient_id":2}`, Request{}, true},
		{"wrong_shape", `{"data":"Hello world!"}`, Request{}, true},
		{"recipient_as_string", `{"msg":"hi","recipient_id":"2"}`, Request{}, true},
		{"recipient_as_float", `{"msg":"hi","recipient_id":2.5}`, Request{}, true},
		{"msg_as_number", `{"msg":5,"recipient_id":2}`, Request{}, true},
		{"null_msg", `{"msg":null,"recipient_id":2}`, Request{}, true},
		{"null_payload", `null`, Request{}, true},
		{"array_payload", `[1,2]`, Request{}, true},
		{"not_json", `hello`, Request{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeNotices(t *testing.T) {
	p, err := Encode(Success("Message has been send"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SUCCESS","data":{"msg":"Message has been send"}}`, string(p))

	p, err = Encode(Error("Invalid data"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ERROR","data":{"msg":"Invalid data"}}`, string(p))
}

func TestEncodeMessage(t *testing.T) {
	createdAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := model.Message{ID: 1, SenderID: 1, RecipientID: 2, Body: "Hello world!", CreatedAt: createdAt}
	sender := model.Profile{ID: 1, Username: "user1", Avatar: "avatar1.png"}

	p, err := Encode(Message(m, sender))
	require.NoError(t, err)

	want := `{"type":"MESSAGE","data":{
		"id":1,"sender_id":1,"recipient_id":2,"msg":"Hello world!",
		"created_at":"2024-01-01T12:00:00Z",
		"sender":{"id":1,"username":"user1","avatar":"avatar1.png"}}}`
	assert.JSONEq(t, want, string(p))
}

func TestTimestamp(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"whole_seconds", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "2024-01-01T12:00:00Z"},
		{"microseconds", time.Date(2024, 1, 1, 12, 0, 0, 123456000, time.UTC), "2024-01-01T12:00:00.123456Z"},
		{"trailing_zeros_trimmed", time.Date(2024, 1, 1, 12, 0, 0, 500000000, time.UTC), "2024-01-01T12:00:00.5Z"},
		{"converted_to_utc", time.Date(2024, 1, 1, 13, 0, 0, 0, berlin), "2024-01-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Timestamp(tt.in).String()
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasSuffix(got, "Z"))
			assert.NotContains(t, got, " ")

			var back Timestamp
			require.NoError(t, json.Unmarshal([]byte(`"`+got+`"`), &back))
			assert.True(t, tt.in.Equal(time.Time(back)))
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	m := model.Message{ID: 7, SenderID: 3, RecipientID: 4, Body: "yo", CreatedAt: time.Now()}
	p, err := Encode(Message(m, model.Profile{ID: 3, Username: "three"}))
	require.NoError(t, err)

	env, err := DecodeEnvelope(p)
	require.NoError(t, err)
	require.Equal(t, TypeMessage, env.Type)

	var data MessageData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(7), data.ID)
	assert.Equal(t, "three", data.Sender.Username)
}

func TestEncodeRequest(t *testing.T) {
	p, err := EncodeRequest(Request{Msg: "hi", RecipientID: 9})
	require.NoError(t, err)

	got, err := DecodeRequest(p)
	require.NoError(t, err)
	assert.Equal(t, Request{Msg: "hi", RecipientID: 9}, got)
}
