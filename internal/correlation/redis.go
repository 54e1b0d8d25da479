package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"tgwabridge/internal/domain"
)

// DefaultRedisKey is the hash holding user -> message id.
const DefaultRedisKey = "tgwabridge:correlation"

// RedisStore keeps correlation records in a Redis hash. Update times live in
// a sibling hash so the main one stays a plain field -> value map.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisStore(ctx context.Context, redisURL, key string, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot reach redis: %w", err)
	}
	return NewRedisStoreFromClient(client, key, logger), nil
}

// NewRedisStoreFromClient wraps an existing client; the store takes ownership
// and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client, key string, logger *slog.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

func (s *RedisStore) Lookup(ctx context.Context, userID string) (string, bool, error) {
	messageID, err := s.client.HGet(ctx, s.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewError(domain.KindStoreUnavailable, "redis lookup", err)
	}
	return messageID, true, nil
}

func (s *RedisStore) Upsert(ctx context.Context, userID, messageID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, userID, messageID)
		pipe.HSet(ctx, s.key+":updated", userID, strconv.FormatInt(time.Now().Unix(), 10))
		return nil
	})
	if err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "redis upsert", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, domain.NewError(domain.KindStoreUnavailable, "redis count", err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "redis ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
