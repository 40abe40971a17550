package message

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Send and Recv once a channel has been closed
// and drained.
var ErrClosed = errors.New("channel closed")

// Chan is a named bounded multi-producer/multi-consumer FIFO channel.
// Senders block when the channel is full; Close is idempotent and safe
// against concurrent senders.
type Chan struct {
	name string
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// NewChan creates a bounded channel with the given capacity.
func NewChan(name string, capacity int) *Chan {
	if capacity < 1 {
		capacity = 1
	}
	return &Chan{
		name: name,
		ch:   make(chan Message, capacity),
		done: make(chan struct{}),
	}
}

// Name returns the channel name assigned at topology build time.
func (c *Chan) Name() string { return c.name }

// Send enqueues msg, blocking while the channel is full. It returns
// ErrClosed after Close and the context error on cancellation.
func (c *Chan) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next message. After Close, buffered messages are
// still drained; once empty it returns ErrClosed so consumers observe
// end-of-stream and exit cleanly.
func (c *Chan) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-c.done:
		// Drain anything enqueued before the close won the race.
		select {
		case msg := <-c.ch:
			return msg, nil
		default:
			return Message{}, ErrClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close marks the channel closed. Pending messages remain receivable.
func (c *Chan) Close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcast delivers msg to every endpoint. A failed delivery is logged
// and does not cancel the others; the number of successful deliveries is
// returned.
func Broadcast(ctx context.Context, logger *slog.Logger, outbound []*Chan, msg Message) int {
	delivered := 0
	for _, out := range outbound {
		if err := out.Send(ctx, msg); err != nil {
			if logger != nil {
				logger.Warn("Message delivery failed",
					"channel", out.Name(),
					"uuid", msg.UUID,
					"error", err)
			}
			continue
		}
		delivered++
	}
	return delivered
}
