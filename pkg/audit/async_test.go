package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgeops/stacks/pkg/observability"
)

type captureSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
	closed bool
}

func (c *captureSink) LogDecision(ctx context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestAsyncLogger_DeliversEvents(t *testing.T) {
	sink := &captureSink{}
	logger := NewAsyncLogger(sink, testLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.LogDecision(context.Background(), &Event{Check: "permission"}))
	}

	require.NoError(t, logger.Close())
	assert.Equal(t, 10, sink.count(), "close must drain queued events")
	assert.True(t, sink.closed)
}

func TestAsyncLogger_RejectsAfterClose(t *testing.T) {
	sink := &captureSink{}
	logger := NewAsyncLogger(sink, testLogger())
	require.NoError(t, logger.Close())

	err := logger.LogDecision(context.Background(), &Event{})
	assert.Error(t, err)
}

func TestAsyncLogger_CloseIsIdempotent(t *testing.T) {
	logger := NewAsyncLogger(&captureSink{}, testLogger())
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestAsyncLogger_SinkFailureDoesNotBlockCallers(t *testing.T) {
	sink := &captureSink{err: errors.New("disk full")}
	logger := NewAsyncLogger(sink, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			logger.LogDecision(context.Background(), &Event{})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a failing sink must not block decision recording")
	}
	logger.Close()
}
