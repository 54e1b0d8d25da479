package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultStreamPrefix = "tgwabridge:queue"
	DefaultGroup        = "tgwabridge"
	defaultBlock        = 2 * time.Second
)

// RedisOptions configures a RedisQueue. Zero values pick defaults.
type RedisOptions struct {
	Prefix string
	Group  string
	// Block bounds each XREADGROUP so the caller can observe shutdown.
	Block time.Duration
	// MaxLen trims each stream approximately on XADD; 0 disables trimming.
	MaxLen int64
}

// RedisQueue keeps one Redis stream per topic, read through a consumer group
// one entry at a time. Entries are acknowledged only after Ack.
type RedisQueue struct {
	rdb      *redis.Client
	opts     RedisOptions
	consumer string
	logger   *slog.Logger

	mu     sync.Mutex
	groups map[string]bool
}

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url string, opts RedisOptions, logger *slog.Logger) (*RedisQueue, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFromClient(rdb, opts, logger), nil
}

func NewRedisFromClient(rdb *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultStreamPrefix
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Block <= 0 {
		opts.Block = defaultBlock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		rdb:      rdb,
		opts:     opts,
		consumer: "consumer-" + uuid.NewString(),
		logger:   logger,
		groups:   make(map[string]bool),
	}
}

func (q *RedisQueue) stream(topic string) string {
	return q.opts.Prefix + ":" + topic
}

// Publish appends payload to the topic's stream. The consumer group is made
// first so entries published before any worker starts are still delivered.
func (q *RedisQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := q.ensureGroup(ctx, topic); err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: q.stream(topic),
		Values: map[string]interface{}{"payload": string(payload)},
	}
	if q.opts.MaxLen > 0 {
		args.Approx = true
		args.MaxLen = q.opts.MaxLen
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// ensureGroup creates the consumer group once per topic. New groups start at
// the beginning of the stream, so nothing already queued is skipped.
func (q *RedisQueue) ensureGroup(ctx context.Context, topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.groups[topic] {
		return nil
	}
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream(topic), q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groups[topic] = true
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, topic string) (*Message, error) {
	if err := q.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}

	stream := q.stream(topic)
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    q.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			// Stream was deleted underneath us; the next call recreates the
			// group and picks up anything published since.
			q.mu.Lock()
			delete(q.groups, topic)
			q.mu.Unlock()
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}

	for _, s := range res {
		for _, m := range s.Messages {
			payload, _ := m.Values["payload"].(string)
			return &Message{ID: m.ID, Topic: topic, Payload: []byte(payload)}, nil
		}
	}
	return nil, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	if err := q.rdb.XAck(ctx, q.stream(msg.Topic), q.opts.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", msg.ID, err)
	}
	return nil
}

// Pending reports entries delivered to the group but not yet acknowledged.
func (q *RedisQueue) Pending(ctx context.Context, topic string) (int64, error) {
	p, err := q.rdb.XPending(ctx, q.stream(topic), q.opts.Group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
