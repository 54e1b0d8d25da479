package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer       = 100
	defaultPollInterval = time.Second
	publishTimeout      = 10 * time.Second
)

// MemoryQueue is a Go-channel queue for single-process deployments. Messages
// are lost on restart.
type MemoryQueue struct {
	topics map[string]chan *Message
	mu     sync.RWMutex
	closed bool
	seq    atomic.Uint64
	logger *slog.Logger

	pollInterval   time.Duration
	publishTimeout time.Duration
}

// NewMemory creates a MemoryQueue with one bounded channel per topic.
func NewMemory(topics []string, bufferSize int, logger *slog.Logger) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &MemoryQueue{
		topics:         make(map[string]chan *Message, len(topics)),
		logger:         logger,
		pollInterval:   defaultPollInterval,
		publishTimeout: publishTimeout,
	}
	for _, t := range topics {
		q.topics[t] = make(chan *Message, bufferSize)
	}
	return q
}

// Publish blocks up to the publish timeout if the topic is full instead of
// dropping.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	ch, ok := q.topics[topic]
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}

	msg := &Message{
		ID:      strconv.FormatUint(q.seq.Add(1), 10),
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	}

	select {
	case ch <- msg:
		return nil
	default:
	}

	q.logger.Warn("queue full, waiting...", "topic", topic)
	timer := time.NewTimer(q.publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return nil
	case <-timer.C:
		q.logger.Error("message dropped: queue full", "topic", topic, "waited", q.publishTimeout)
		return ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context, topic string) (*Message, error) {
	q.mu.RLock()
	ch, ok := q.topics[topic]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}

	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	select {
	case msg, open := <-ch:
		if !open {
			return nil, ErrClosed
		}
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: a received message is already gone from the channel.
func (q *MemoryQueue) Ack(context.Context, *Message) error { return nil }

// Len reports the number of messages waiting on topic.
func (q *MemoryQueue) Len(topic string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.topics[topic])
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		for _, ch := range q.topics {
			close(ch)
		}
	}
	return nil
}
