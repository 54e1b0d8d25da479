// Package queue decouples webhook intake from relaying. Each direction has its
// own topic and is drained by exactly one Worker.
package queue

import (
	"context"
	"errors"

	"tgwabridge/internal/metrics"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Message is one queued webhook body.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Queue is a per-topic FIFO with explicit acknowledgement.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Receive waits for the next message on topic. It returns (nil, nil)
	// when nothing arrived within the queue's poll interval so callers can
	// check for shutdown.
	Receive(ctx context.Context, topic string) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	Close() error
}

// Publisher returns a webhook sink that enqueues payloads on topic.
func Publisher(q Queue, topic string, m *metrics.Collector) func(context.Context, []byte) error {
	return func(ctx context.Context, payload []byte) error {
		if err := q.Publish(ctx, topic, payload); err != nil {
			m.QueueEvent(topic, "publish_failed")
			return err
		}
		m.QueueEvent(topic, "published")
		return nil
	}
}
