package messagepipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/jeyrschabu/keiko/pkg/messagepipeline"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// --- Test messages ---

type startStage struct {
	message.Base
	StageID string `json:"stageId"`
}

type cancelStage struct {
	message.Base
	StageID string `json:"stageId"`
	Reason  string `json:"reason"`
}

// newTestCodec registers the test messages with a fresh registry.
func newTestCodec(t *testing.T) *message.Codec {
	t.Helper()
	r := message.NewRegistry()
	require.NoError(t, message.RegisterMessage[*startStage](r, "startStage"))
	require.NoError(t, message.RegisterMessage[*cancelStage](r, "cancelStage"))
	return message.NewCodec(r)
}

// --- Pub/Sub emulator ---

// setupPubsub creates an in-process Pub/Sub server with one topic and, when
// subID is set, a subscription to it. It returns a client connected to the
// server and the topic.
func setupPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	if subID != "" {
		_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		require.NoError(t, err)
	}
	return client, topic
}

// --- MockMessageConsumer ---

// MockMessageConsumer feeds hand-built deliveries to a StreamingService.
// Deliveries still buffered when it stops are Nacked, as a broker would
// redeliver them.
type MockMessageConsumer struct {
	deliveries chan messagepipeline.Delivery
	done       chan struct{}
	stopOnce   sync.Once

	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
}

// NewMockMessageConsumer creates a mock consumer buffering up to bufferSize deliveries.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		deliveries: make(chan messagepipeline.Delivery, max(bufferSize, 0)),
		done:       make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Delivery {
	return m.deliveries
}

// Start records the call and stops the mock once ctx is cancelled.
func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return m.startErr
	}
	go func() {
		<-ctx.Done()
		_ = m.Stop(context.Background())
	}()
	return nil
}

func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stops++
		m.mu.Unlock()

		close(m.done)
		close(m.deliveries)
		for d := range m.deliveries {
			log.Warn().Str("msg_id", d.ID).Msg("Mock consumer stopped with undelivered message, Nacking.")
			if d.Nack != nil {
				d.Nack()
			}
		}
	})
	return nil
}

// Close stops the consumer; it has the shape t.Cleanup expects.
func (m *MockMessageConsumer) Close() {
	_ = m.Stop(context.Background())
}

func (m *MockMessageConsumer) Done() <-chan struct{} {
	return m.done
}

// Push queues a delivery. Pushing after Stop is logged and dropped.
func (m *MockMessageConsumer) Push(d messagepipeline.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("msg_id", d.ID).Msg(fmt.Sprintf("Push after stop dropped: %v", r))
		}
	}()
	m.deliveries <- d
}

// SetStartError makes the next Start calls fail with err.
func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
