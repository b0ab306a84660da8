package messagepipeline

import (
	"context"

	"github.com/jeyrschabu/keiko/pkg/message"
)

// MessageConsumer defines the interface for a message source (e.g., Pub/Sub).
// It is responsible for fetching and decoding messages and handing them off to workers.
type MessageConsumer interface {
	// Messages returns a read-only channel from which workers will receive deliveries.
	Messages() <-chan Delivery
	// Start begins the consumption process (e.g., by calling subscription.Receive).
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// Publisher sends messages to a queue, returning the broker-assigned id.
type Publisher interface {
	Publish(ctx context.Context, m message.Message) (string, error)
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// MessageHandler processes a single delivery. Returning an error causes the
// delivery to be Nacked.
type MessageHandler func(ctx context.Context, d *Delivery) error
