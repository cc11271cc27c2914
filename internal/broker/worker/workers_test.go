package worker

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johndosdos/messenger/internal/broker"
)

type delivery struct {
	payload []byte
	userIDs []int64
}

type fakeDeliverer struct {
	got []delivery
}

func (f *fakeDeliverer) DeliverLocal(payload []byte, userIDs ...int64) int {
	f.got = append(f.got, delivery{payload, userIDs})
	return len(userIDs)
}

func TestLocalDelivery(t *testing.T) {
	req := require.New(t)
	d := &fakeDeliverer{}
	handle := LocalDelivery(d, "node-a", slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Envelopes from this node were delivered when they were sent
	handle(broker.Envelope{Origin: "node-a", SenderID: 1, RecipientID: 2, Frame: json.RawMessage(`{}`)})
	req.Empty(d.got)

	// Envelopes from other nodes reach both users
	handle(broker.Envelope{Origin: "node-b", SenderID: 1, RecipientID: 2, Frame: json.RawMessage(`{"type":"MESSAGE"}`)})
	req.Len(d.got, 1)
	req.Equal([]int64{1, 2}, d.got[0].userIDs)
	req.JSONEq(`{"type":"MESSAGE"}`, string(d.got[0].payload))
}
