package audit

import "context"

// Logger is the audit sink contract. Implementations must never block
// an authorization decision on sink availability; callers treat sink
// errors as log-and-continue.
type Logger interface {
	LogDecision(ctx context.Context, event *Event) error
	Close() error
}

// NopLogger discards all events. Used when no audit sink is
// configured and in tests.
type NopLogger struct{}

// LogDecision discards the event.
func (NopLogger) LogDecision(ctx context.Context, event *Event) error { return nil }

// Close is a no-op.
func (NopLogger) Close() error { return nil }
