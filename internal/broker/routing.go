package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Using NATS is simpler than RabbitMQ for the projects requirements.
var (
	StreamName    = "MESSAGES"
	SubjectDirect = StreamName + "." + "direct"
)

// EnsureStream creates the stream MESSAGE frames are relayed through, or
// updates it to the current configuration.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectDirect},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, fmt.Errorf("internal/broker: failed to create/update stream: %w", err)
	}
	return stream, nil
}
