// Package worker turns relayed envelopes into local deliveries.
package worker

import (
	"log/slog"

	"github.com/johndosdos/messenger/internal/broker"
)

// Deliverer hands an encoded frame to the local connections of userIDs.
type Deliverer interface {
	DeliverLocal(payload []byte, userIDs ...int64) int
}

// LocalDelivery returns the broker handler of node nodeID. Envelopes this
// node published itself were already delivered locally and are skipped.
func LocalDelivery(d Deliverer, nodeID string, log *slog.Logger) func(broker.Envelope) {
	return func(env broker.Envelope) {
		if env.Origin == nodeID {
			return
		}
		n := d.DeliverLocal(env.Frame, env.SenderID, env.RecipientID)
		log.Debug("relayed message delivered",
			"origin", env.Origin,
			"sender_id", env.SenderID,
			"recipient_id", env.RecipientID,
			"connections", n)
	}
}
