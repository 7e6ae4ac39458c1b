package audit

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/knowledgeops/stacks/pkg/observability"
)

const (
	defaultAsyncWorkers = 4
	defaultAsyncBuffer  = 256
	defaultWriteTimeout = 5 * time.Second
	drainTimeout        = 10 * time.Second
)

var errLoggerClosed = errors.New("audit: async logger closed")

// AsyncLogger decouples authorization decisions from sink latency. Events
// are queued and written by a small worker pool; when the queue is full
// the event is dropped rather than stalling the request.
type AsyncLogger struct {
	sink    Logger
	log     *observability.Logger
	events  chan *Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsyncLogger wraps sink with a buffered worker pool. Close drains
// queued events before closing the underlying sink.
func NewAsyncLogger(sink Logger, log *observability.Logger) *AsyncLogger {
	a := &AsyncLogger{
		sink:   sink,
		log:    log,
		events: make(chan *Event, defaultAsyncBuffer),
		done:   make(chan struct{}),
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < defaultAsyncWorkers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.worker()
			}()
		}
		wg.Wait()
		close(a.done)
	}()

	return a
}

// LogDecision queues the event. Returns an error only after Close; a
// full queue drops the event and logs the drop.
func (a *AsyncLogger) LogDecision(ctx context.Context, event *Event) error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return errLoggerClosed
	}

	select {
	case a.events <- event:
		a.closeMu.Unlock()
		return nil
	default:
		a.closeMu.Unlock()
		a.log.WithFields(map[string]interface{}{
			"actor_id": event.ActorID,
			"check":    event.Check,
		}).Warn("audit queue full, dropping event")
		return nil
	}
}

// Close stops accepting events, drains the queue, and closes the sink.
func (a *AsyncLogger) Close() error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.closeMu.Unlock()

	select {
	case <-a.done:
	case <-time.After(drainTimeout):
		a.log.Warn("audit drain timed out, some events may be lost")
	}
	return a.sink.Close()
}

func (a *AsyncLogger) worker() {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Errorf("audit worker panic:\n%s", debug.Stack())
		}
	}()

	for event := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		if err := a.sink.LogDecision(ctx, event); err != nil {
			a.log.WithError(err).Warn("audit write failed")
		}
		cancel()
	}
}
