package messagepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/rs/zerolog"
)

// StreamingService orchestrates a pool of workers that take deliveries from a
// consumer and hand each one to a handler. Each delivery is owned by exactly
// one worker for its whole lifetime, which is what makes in-place attribute
// updates by the handler safe.
type StreamingService struct {
	numWorkers int
	consumer   MessageConsumer
	handler    MessageHandler
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	NumWorkers int
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService(
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	handler MessageHandler,
	logger zerolog.Logger,
) (*StreamingService, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5 // Default to a reasonable number of workers.
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &StreamingService{
		numWorkers: cfg.NumWorkers,
		consumer:   consumer,
		handler:    handler,
		logger:     logger.With().Str("service", "StreamingService").Logger(),
	}, nil
}

// Start begins the service operation. It starts the consumer and then spawns
// a pool of workers to process deliveries concurrently.
func (s *StreamingService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting streaming service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Msg("Streaming service started successfully.")
	return nil
}

// Stop gracefully shuts down the entire service in the correct order.
func (s *StreamingService) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping streaming service...")

	// Stop the consumer first to prevent new deliveries from arriving.
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Info().Msg("All processing workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Streaming service stopped.")
	return nil
}

// worker is the main processing loop for each concurrent worker.
func (s *StreamingService) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Processing worker shutting down due to context cancellation.")
			return
		case d, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.process(ctx, &d, workerID)
		}
	}
}

// process hands a single delivery to the handler and acknowledges it based on the result.
func (s *StreamingService) process(ctx context.Context, d *Delivery, workerID int) {
	logger := s.logger.With().Int("worker_id", workerID).Str("msg_id", d.ID).
		Int("attempts", message.Attempts(d.Message)).
		Int("max_attempts", message.MaxAttempts(d.Message)).Logger()

	if err := s.handler(ctx, d); err != nil {
		logger.Error().Err(err).Msg("Handler failed to process message, Nacking.")
		if d.Nack != nil {
			d.Nack()
		}
		return
	}

	logger.Debug().Msg("Message processed successfully, Acking.")
	if d.Ack != nil {
		d.Ack()
	}
}
