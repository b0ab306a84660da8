package messagepipeline

import (
	"time"

	"github.com/jeyrschabu/keiko/pkg/message"
)

// MessageTypeAttribute is the broker attribute carrying the registered type
// name of the enveloped message. It allows subscriptions to filter by type
// without decoding the payload.
const MessageTypeAttribute = "message_type"

// Delivery is a decoded queue message together with its broker metadata and
// acknowledgment handles. A Delivery is owned by the single worker
// processing it; only that worker may change the message's attributes.
type Delivery struct {
	// ID is the unique identifier for the message from the source broker.
	ID string

	// Message is the decoded envelope, with its concrete type and attributes restored.
	Message message.Message

	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time

	// BrokerAttributes holds transport metadata from the broker (e.g., Pub/Sub
	// attributes). These are distinct from the message's own typed attributes.
	BrokerAttributes map[string]string

	// Ack is a function to call to signal that processing was successful and the
	// message can be permanently removed from the source.
	Ack func()

	// Nack is a function to call to signal that processing has failed and the
	// message should be redelivered.
	Nack func()
}
