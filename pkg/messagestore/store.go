// Package messagestore persists queue messages by id. Every implementation
// keeps the serialized envelope rather than the live value, so each Load
// returns an independent message with its own attributes.
package messagestore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jeyrschabu/keiko/pkg/message"
)

// ErrNotFound is returned by Load when no message is stored under the id.
var ErrNotFound = errors.New("message not found")

// Store is a keyed repository of messages.
type Store interface {
	// Save stores m under id, replacing any previous message.
	Save(ctx context.Context, id string, m message.Message) error
	// Load returns a freshly decoded copy of the message stored under id.
	Load(ctx context.Context, id string) (message.Message, error)
	// Delete removes the message stored under id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases resources owned by the store.
	Close() error
}

// NewID returns a new random message id.
func NewID() string {
	return uuid.NewString()
}
