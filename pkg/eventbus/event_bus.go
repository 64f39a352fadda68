// Package eventbus carries claimflow's events between processes: execution
// and resume requests consumed by the workflow dispatcher, and the execution
// and node lifecycle events the executor publishes for other services.
package eventbus

import (
	"context"

	"github.com/dukex/claimflow/pkg/events"
)

// Event is any message from pkg/events.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends an event. key orders delivery: the executor uses the
// execution id, so one execution's events stay in sequence on a partitioned
// transport such as Kafka.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes incoming events by type. Handlers are registered
// before Subscribe; a handler error leaves the message for redelivery.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event as a pointer, e.g.
// *events.WorkflowExecutionRequested.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
