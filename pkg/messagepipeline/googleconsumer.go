package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/rs/zerolog"
)

// --- Google Cloud Pub/Sub Consumer Implementation ---

// GooglePubsubConsumerConfig holds configuration for the Google Pub/Sub consumer.
type GooglePubsubConsumerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	SubscriptionTimeout    time.Duration
	StopTimeout            time.Duration
}

// NewGooglePubsubConsumerDefaults provides a config with sensible defaults.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	cfg := &GooglePubsubConsumerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
		SubscriptionTimeout:    20 * time.Second,
		StopTimeout:            30 * time.Second,
	}
	if mo := os.Getenv("PUBSUB_CONSUMER_MAX_OUTSTANDING"); mo != "" {
		if val, err := strconv.Atoi(mo); err == nil {
			cfg.MaxOutstandingMessages = val
		}
	}
	if ng := os.Getenv("PUBSUB_CONSUMER_NUM_GOROUTINES"); ng != "" {
		if val, err := strconv.Atoi(ng); err == nil {
			cfg.NumGoroutines = val
		}
	}
	return cfg
}

// GooglePubsubConsumer receives envelopes from a subscription, decodes them
// with a Codec, records the delivery attempt and emits Deliveries.
type GooglePubsubConsumer struct {
	subscription       *pubsub.Subscription
	codec              *message.Codec
	logger             zerolog.Logger
	outputChan         chan Delivery
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
	stopTimeout        time.Duration

	// warns once when the subscription does not report delivery attempts
	noAttemptsWarning sync.Once
}

// NewGooglePubsubConsumer creates a consumer for an existing subscription.
func NewGooglePubsubConsumer(
	cfg *GooglePubsubConsumerConfig,
	client *pubsub.Client,
	codec *message.Codec,
	logger zerolog.Logger,
) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	subContext, cancel := context.WithTimeout(context.Background(), cfg.SubscriptionTimeout)
	defer cancel()
	exists, err := sub.Exists(subContext)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	logger.Info().Str("subscription_id", cfg.SubscriptionID).Msg("Listening for messages")

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &GooglePubsubConsumer{
		subscription: sub,
		codec:        codec,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan Delivery, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
		stopTimeout:  stopTimeout,
	}, nil
}

func (c *GooglePubsubConsumer) Messages() <-chan Delivery { return c.outputChan }

func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			delivery, err := c.decode(msg)
			if err != nil {
				c.logger.Error().Err(err).Str("msg_id", msg.ID).
					Str("message_type", msg.Attributes[MessageTypeAttribute]).
					Msg("Failed to decode envelope, Nacking.")
				msg.Nack()
				return
			}

			select {
			case c.outputChan <- delivery:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message due to receive context done.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// decode restores the enveloped message and records this delivery attempt on it.
func (c *GooglePubsubConsumer) decode(msg *pubsub.Message) (Delivery, error) {
	m, err := c.codec.Unmarshal(msg.Data)
	if err != nil {
		return Delivery{}, err
	}
	if msg.DeliveryAttempt == nil {
		c.noAttemptsWarning.Do(func() {
			c.logger.Warn().Msg("Subscription does not report delivery attempts; attempt counts will not grow across redeliveries without a dead letter policy.")
		})
	}
	recordDeliveryAttempt(m, msg.DeliveryAttempt)

	return Delivery{
		ID:               msg.ID,
		Message:          m,
		PublishTime:      msg.PublishTime,
		BrokerAttributes: msg.Attributes,
		Ack:              msg.Ack,
		Nack:             msg.Nack,
	}, nil
}

// recordDeliveryAttempt sets the AttemptsAttribute from the broker's count
// when it tracks one (subscriptions with a dead letter policy), and otherwise
// increments the count carried in the envelope.
//
// Without a dead letter policy Pub/Sub redelivers a Nacked message with its
// original bytes, so the carried count is the one set by the publisher and
// every redelivery reports the same number. Subscriptions that need a
// growing count must enable a dead letter policy, or the handler must
// republish the message with its updated attributes.
func recordDeliveryAttempt(m message.Message, brokerAttempt *int) {
	if brokerAttempt != nil && *brokerAttempt > 0 {
		if a, ok := message.GetAttribute[*message.AttemptsAttribute](m); ok {
			a.Attempts = *brokerAttempt
			return
		}
		message.SetAttribute(m, &message.AttemptsAttribute{Attempts: *brokerAttempt})
		return
	}
	message.IncrementAttempts(m)
}

// Stop cancels the receive loop and waits for it to exit.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
		} else {
			// Never started; release anyone waiting on the channels.
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Context done while waiting for Pub/Sub Receive goroutine to stop.")
			stopErr = ctx.Err()
		case <-time.After(c.stopTimeout):
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			stopErr = fmt.Errorf("timed out waiting for consumer to stop")
		}
	})
	return stopErr
}

func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }
