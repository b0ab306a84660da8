package messagestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreDocument is the stored shape of a message.
type firestoreDocument struct {
	Type      string    `firestore:"type"`
	Envelope  []byte    `firestore:"envelope"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore is a Store backed by a Firestore collection, one document per
// message. It suits low volume deployments or serves as the fallback behind a
// RedisStore.
type FirestoreStore struct {
	client         *firestore.Client
	codec          *message.Codec
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a new FirestoreStore using an externally managed client.
func NewFirestoreStore(
	cfg *FirestoreConfig,
	client *firestore.Client,
	codec *message.Codec,
	logger zerolog.Logger,
) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		codec:          codec,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Save encodes m and writes it to the document named id.
func (s *FirestoreStore) Save(ctx context.Context, id string, m message.Message) error {
	typeName, err := s.codec.TypeName(m)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", id, err)
	}
	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", id, err)
	}

	doc := firestoreDocument{Type: typeName, Envelope: data, UpdatedAt: time.Now().UTC()}
	if _, err := s.client.Collection(s.collectionName).Doc(id).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", id, err)
	}
	s.logger.Debug().Str("key", id).Str("message_type", typeName).Msg("Successfully wrote message to Firestore.")
	return nil
}

// Load reads and decodes the document named id.
func (s *FirestoreStore) Load(ctx context.Context, id string) (message.Message, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("key", id).Msg("Document not found in Firestore.")
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to get document from Firestore.")
		return nil, fmt.Errorf("firestore get for %s: %w", id, err)
	}

	var doc firestoreDocument
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to map Firestore document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}

	m, err := s.codec.Unmarshal(doc.Envelope)
	if err != nil {
		s.logger.Error().Err(err).Str("key", id).Str("message_type", doc.Type).Msg("Failed to decode stored message.")
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return m, nil
}

// Delete removes the document named id.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.collectionName).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", id, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}
