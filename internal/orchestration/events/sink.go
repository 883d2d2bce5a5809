package events

import (
	"context"

	"github.com/zjrosen/paracycle/internal/pubsub"
)

// Sink is the injected event-emission surface every component holds a
// reference to. A no-op default means the core owns no singleton
// broadcaster - delivery is always someone else's problem.
type Sink interface {
	Emit(Event)
}

// BrokerSink fans Emit calls out over a pubsub.Broker[Event].
type BrokerSink struct {
	broker *pubsub.Broker[Event]
}

// NewBrokerSink constructs a Sink backed by a fresh broker.
func NewBrokerSink() *BrokerSink {
	return &BrokerSink{broker: pubsub.NewBroker[Event]()}
}

func (s *BrokerSink) Emit(e Event) {
	s.broker.Publish(e)
}

// Subscribe returns a channel of events; closed when ctx is cancelled.
func (s *BrokerSink) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return s.broker.Subscribe(ctx)
}

func (s *BrokerSink) Close() {
	s.broker.Close()
}

// NoopSink discards every event. Used as the zero-value default so
// components never need a nil check before emitting.
type NoopSink struct{}

func (NoopSink) Emit(Event) {}
