package messagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// MessageTTL bounds how long a message is kept. Zero keeps it forever.
	MessageTTL time.Duration
	// WriteBackTimeout bounds the background write after a fallback hit.
	WriteBackTimeout time.Duration
}

// NewRedisConfigDefaults provides a config with sensible defaults, overridable
// through the environment.
func NewRedisConfigDefaults() *RedisConfig {
	cfg := &RedisConfig{
		Addr:             "localhost:6379",
		KeyPrefix:        "keiko:message:",
		MessageTTL:       24 * time.Hour,
		WriteBackTimeout: 10 * time.Second,
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if val, err := strconv.Atoi(db); err == nil {
			cfg.DB = val
		}
	}
	if prefix := os.Getenv("REDIS_KEY_PREFIX"); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	if ttl := os.Getenv("REDIS_MESSAGE_TTL"); ttl != "" {
		if val, err := time.ParseDuration(ttl); err == nil {
			cfg.MessageTTL = val
		}
	}
	return cfg
}

// RedisStore is a Store backed by Redis. It can be configured with a fallback
// Store to read through to on a miss.
type RedisStore struct {
	redisClient      *redis.Client
	codec            *message.Codec
	logger           zerolog.Logger
	keyPrefix        string
	ttl              time.Duration
	writeBackTimeout time.Duration
	fallback         Store
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
// fallback is optional and may be nil.
func NewRedisStore(
	ctx context.Context,
	cfg *RedisConfig,
	codec *message.Codec,
	logger zerolog.Logger,
	fallback Store,
) (*RedisStore, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	writeBackTimeout := cfg.WriteBackTimeout
	if writeBackTimeout <= 0 {
		writeBackTimeout = 10 * time.Second
	}
	return &RedisStore{
		redisClient:      rdb,
		codec:            codec,
		logger:           logger.With().Str("component", "RedisStore").Logger(),
		keyPrefix:        cfg.KeyPrefix,
		ttl:              cfg.MessageTTL,
		writeBackTimeout: writeBackTimeout,
		fallback:         fallback,
	}, nil
}

// Save encodes m and stores it under id with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, id string, m message.Message) error {
	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", id, err)
	}
	return s.write(ctx, id, data)
}

// Load retrieves a message by id. It first checks Redis. On a miss, if a
// fallback is configured, it loads from the fallback, writes the result back
// to Redis in the background, and returns it.
func (s *RedisStore) Load(ctx context.Context, id string) (message.Message, error) {
	data, err := s.redisClient.Get(ctx, s.key(id)).Bytes()
	if err == nil {
		s.logger.Debug().Str("key", id).Msg("Redis hit.")
		m, err := s.codec.Unmarshal(data)
		if err != nil {
			s.logger.Error().Err(err).Str("key", id).Msg("Failed to decode stored message.")
			return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
		}
		return m, nil
	}

	// A redis.Nil error is a normal miss. Any other error is a genuine problem.
	if !errors.Is(err, redis.Nil) {
		s.logger.Error().Err(err).Str("key", id).Msg("Unexpected Redis error during load.")
		return nil, fmt.Errorf("redis get for %s: %w", id, err)
	}

	if s.fallback == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}

	m, err := s.fallback.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	// Encode now so the background write does not share m with the caller.
	encoded, err := s.codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", id, err)
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), s.writeBackTimeout)
		defer cancel()
		if writeErr := s.write(writeCtx, id, encoded); writeErr != nil {
			s.logger.Error().Err(writeErr).Str("key", id).Msg("Failed to write back to Redis in background.")
		}
	}()

	return m, nil
}

// Delete removes the message from Redis. The fallback, if any, is untouched.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redisClient.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del for %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, id string, data []byte) error {
	if err := s.redisClient.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to set message in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	s.logger.Debug().Str("key", id).Msg("Successfully stored message in Redis.")
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
