package message

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanFIFO(t *testing.T) {
	ctx := context.Background()
	c := NewChan("test", 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(ctx, NewJSON(i)))
	}
	for i := 0; i < 5; i++ {
		msg, err := c.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Value)
	}
}

func TestChanCloseDrainsThenEOS(t *testing.T) {
	ctx := context.Background()
	c := NewChan("test", 8)

	require.NoError(t, c.Send(ctx, NewJSON("pending")))
	c.Close()
	c.Close() // idempotent

	msg, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending", msg.Value)

	_, err = c.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, c.Send(ctx, NewJSON("late")), ErrClosed)
}

func TestChanBackpressure(t *testing.T) {
	c := NewChan("test", 1)
	require.NoError(t, c.Send(context.Background(), NewJSON(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, NewJSON(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChanRecvCancellation(t *testing.T) {
	c := NewChan("test", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	a := NewChan("a", 4)
	b := NewChan("b", 4)
	closed := NewChan("closed", 4)
	closed.Close()

	msg := NewWithSender("u-1", "job-1", "", map[string]any{"k": "v"})
	delivered := Broadcast(ctx, logger, []*Chan{a, b, closed}, msg)
	assert.Equal(t, 2, delivered)

	got, err := a.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UUID)
	assert.Equal(t, "job-1", got.Sender)

	got, err = b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.Value, got.Value)
}
