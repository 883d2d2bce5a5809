// Package pubsub provides a generic publish/subscribe fan-out used for
// the engine's event stream and the live log tail.
package pubsub

import (
	"context"
	"time"
)

// Event wraps a published payload with the time it was published.
type Event[T any] struct {
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(payload T)
}
