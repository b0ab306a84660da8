package messagepipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/rs/zerolog"
)

// GooglePublisherConfig holds configuration for the Google Pub/Sub publisher.
type GooglePublisherConfig struct {
	TopicID                    string
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewGooglePublisherDefaults provides a config with sensible defaults.
func NewGooglePublisherDefaults(topicID string) *GooglePublisherConfig {
	cfg := &GooglePublisherConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
	if ct := os.Getenv("PUBSUB_PUBLISHER_CONFIRM_TIMEOUT"); ct != "" {
		if val, err := time.ParseDuration(ct); err == nil {
			cfg.PublishConfirmationTimeout = val
		}
	}
	return cfg
}

// GooglePublisher encodes messages with a Codec and publishes them to a
// Pub/Sub topic.
type GooglePublisher struct {
	topic               *pubsub.Topic
	codec               *message.Codec
	logger              zerolog.Logger
	confirmationTimeout time.Duration
}

// NewGooglePublisher creates a new publisher.
// It verifies that the target topic exists before returning.
func NewGooglePublisher(
	ctx context.Context,
	cfg *GooglePublisherConfig,
	client *pubsub.Client,
	codec *message.Codec,
	logger zerolog.Logger,
) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePublisher initialized successfully.")
	return &GooglePublisher{
		topic:               topic,
		codec:               codec,
		logger:              logger.With().Str("component", "GooglePublisher").Str("topic_id", cfg.TopicID).Logger(),
		confirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish encodes m and blocks until Pub/Sub confirms the publish or the
// confirmation timeout elapses. It returns the server-assigned message id.
func (p *GooglePublisher) Publish(ctx context.Context, m message.Message) (string, error) {
	typeName, err := p.codec.TypeName(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	data, err := p.codec.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", typeName, err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{MessageTypeAttribute: typeName},
	})

	getCtx, cancel := context.WithTimeout(ctx, p.confirmationTimeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		p.logger.Error().Err(err).Str("message_type", typeName).Msg("Failed to publish message.")
		return "", fmt.Errorf("failed to publish %s: %w", typeName, err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Str("message_type", typeName).Msg("Message sent successfully.")
	return msgID, nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	// topic.Stop() is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
