// Package broker relays delivered messages between gateway nodes over NATS
// JetStream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Envelope is what travels on SubjectDirect: an encoded MESSAGE frame plus
// the users it must reach and the node that produced it.
type Envelope struct {
	Origin      string          `json:"origin"`
	SenderID    int64           `json:"sender_id"`
	RecipientID int64           `json:"recipient_id"`
	Frame       json.RawMessage `json:"frame"`
}

type Publisher struct {
	js     jetstream.JetStream
	nodeID string
}

func NewPublisher(js jetstream.JetStream, nodeID string) *Publisher {
	return &Publisher{js: js, nodeID: nodeID}
}

// Publish sends payload to every other node.
func (p *Publisher) Publish(ctx context.Context, senderID, recipientID int64, payload []byte) error {
	if p.js == nil {
		return errors.New("internal/broker: jetstream interface is nil")
	}

	data, err := json.Marshal(Envelope{
		Origin:      p.nodeID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Frame:       payload,
	})
	if err != nil {
		return fmt.Errorf("internal/broker: could not encode envelope to JSON: %w", err)
	}

	_, err = p.js.Publish(ctx,
		SubjectDirect,
		data,
		jetstream.WithMsgID(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("internal/broker: failed to publish to stream [%s]: %w", SubjectDirect, err)
	}
	return nil
}

// Subscriber consumes new envelopes from stream and hands each decoded one to
// handle. Consumption stops when ctx is cancelled.
func Subscriber(ctx context.Context, stream jetstream.Stream, handle func(Envelope), log *slog.Logger) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: SubjectDirect,
	})
	if err != nil {
		return fmt.Errorf("internal/broker: failed to create or update consumer: %w", err)
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		log.Warn("consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler(handle, log), optErrHandler)
	if err != nil {
		return fmt.Errorf("internal/broker: failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}

func consumeHandler(handle func(Envelope), log *slog.Logger) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil || len(env.Frame) == 0 {
			log.Warn("could not decode envelope", "error", err, "subject", msg.Subject())
			if err := msg.Term(); err != nil {
				log.Debug("term failed", "error", err)
			}
			return
		}

		handle(env)

		if err := msg.Ack(); err != nil {
			log.Debug("ack failed", "error", err)
		}
	}
}
