package events

import (
	"context"
	"time"
)

// Event types broadcast to the dashboard and published to Kafka.
const (
	TypeReading = "reading"
	TypeAlert   = "alert"
)

// Event is one state change fanned out to downstream consumers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher delivers events to one downstream channel. Publishing is best
// effort from the caller's perspective: failures are logged by the
// implementation or the caller, never escalated into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event Event) error { return nil }

// Fanout publishes to several channels, returning the first error after
// attempting all of them.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
