package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/claimflow/pkg/channels/gochannel"
	"github.com/dukex/claimflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.WorkflowExecutionRequested, 1)

	require.NoError(t, bus.Handle(events.WorkflowExecutionRequestedEvent, func(_ context.Context, event any) error {
		requested, ok := event.(*events.WorkflowExecutionRequested)
		if !ok {
			return errors.New("unexpected event type")
		}

		received <- requested

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "wf-1", events.WorkflowExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, "wf-1"),
		Context:     map[string]any{"caseId": "42"},
		RequestedBy: "case-service",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "wf-1", event.WorkflowID)
		assert.Equal(t, "42", event.Context["caseId"])
		assert.Equal(t, "case-service", event.RequestedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan string, 2)

	require.NoError(t, bus.Handle(events.WorkflowExecutionCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.WorkflowExecutionCompleted).ExecutionID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionStartedEvent, "wf-1"),
		ExecutionID: "exec-1",
	}))
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, "wf-1"),
		ExecutionID: "exec-1",
	}))

	select {
	case id := <-received:
		assert.Equal(t, "exec-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	assert.Empty(t, received)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t).(*WatermillEventBus)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
