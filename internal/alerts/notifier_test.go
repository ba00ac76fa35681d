package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records delivered notifications.
type captureSink struct {
	mu        sync.Mutex
	delivered []Notification
	err       error
	done      chan struct{}
}

func newCaptureSink(expect int) *captureSink {
	return &captureSink{done: make(chan struct{}, expect)}
}

func (c *captureSink) Deliver(_ context.Context, n Notification) error {
	c.mu.Lock()
	c.delivered = append(c.delivered, n)
	c.mu.Unlock()
	c.done <- struct{}{}
	return c.err
}

func (c *captureSink) wait(t *testing.T) Notification {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered[len(c.delivered)-1]
}

func TestNotifierDeliversEnqueued(t *testing.T) {
	sink := newCaptureSink(1)
	n := NewNotifier(sink, 4, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	ok := n.Enqueue(Notification{
		AlertID:  "a1",
		Type:     "INSUFFICIENT_STOCK",
		Severity: SeverityUrgent,
		Status:   StatusActive,
		Message:  "oversold",
	})
	assert.True(t, ok)

	got := sink.wait(t)
	assert.Equal(t, "a1", got.AlertID)
	assert.Equal(t, SeverityUrgent, got.Severity)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	// no worker started: the queue fills up and stays full
	n := NewNotifier(nil, 1, testLogger(), nil)

	assert.True(t, n.Enqueue(Notification{AlertID: "a1"}))
	assert.False(t, n.Enqueue(Notification{AlertID: "a2"}))
}

func TestNotifierStartIsIdempotent(t *testing.T) {
	sink := newCaptureSink(2)
	n := NewNotifier(sink, 4, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	n.Start(ctx) // second call must not spawn a second worker

	require.True(t, n.Enqueue(Notification{AlertID: "a1"}))
	sink.wait(t)
	require.True(t, n.Enqueue(Notification{AlertID: "a2"}))
	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.delivered, 2)
}
