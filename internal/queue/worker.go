package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"tgwabridge/internal/metrics"
)

// Handler processes one message. It is expected to run a relay to completion.
type Handler func(ctx context.Context, payload []byte)

const receiveBackoff = time.Second

// Worker drains one topic strictly one message at a time. A message is
// acknowledged only after its handler returns; a panicking handler is logged
// and its message is left unacknowledged.
type Worker struct {
	topic   string
	q       Queue
	handle  Handler
	metrics *metrics.Collector
	logger  *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

func NewWorker(topic string, q Queue, h Handler, m *metrics.Collector, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		topic:   topic,
		q:       q,
		handle:  h,
		metrics: m,
		logger:  logger.With("component", "worker", "topic", topic),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it twice is a no-op.
func (w *Worker) Start() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Stop signals the worker and waits for the in-flight message to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if started {
		<-w.done
	}
}

func (w *Worker) run() {
	defer close(w.done)

	// ctx only interrupts a blocked Receive; handlers get their own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Info("worker started")
	for {
		select {
		case <-w.stop:
			w.logger.Info("worker stopped")
			return
		default:
		}

		msg, err := w.q.Receive(ctx, w.topic)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				w.logger.Info("worker stopped", "reason", err)
				return
			}
			w.logger.Warn("receive failed", "err", err)
			select {
			case <-w.stop:
			case <-time.After(receiveBackoff):
			}
			continue
		}
		if msg == nil {
			continue
		}

		w.metrics.QueueEvent(w.topic, "consumed")
		if err := w.process(msg); err != nil {
			w.metrics.QueueEvent(w.topic, "panic")
			w.logger.Error("relay panicked, message left unacknowledged", "message_id", msg.ID, "err", err)
			continue
		}

		if err := w.q.Ack(context.Background(), msg); err != nil {
			w.logger.Error("ack failed", "message_id", msg.ID, "err", err)
			continue
		}
		w.metrics.QueueEvent(w.topic, "acked")
	}
}

func (w *Worker) process(msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.logger.Debug("panic stack", "stack", string(debug.Stack()))
		}
	}()
	w.handle(context.Background(), msg.Payload)
	return nil
}
