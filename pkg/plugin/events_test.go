package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsRunByPriority(t *testing.T) {
	ev := NewEvents(nil)
	var order []string
	add := func(name string, prio int) {
		ev.On(EventAllReady, func(ctx context.Context, e *Event) error {
			order = append(order, name)
			return nil
		}, prio)
	}
	add("late", 10)
	add("early", -5)
	add("mid-1", 0)
	add("mid-2", 0)

	require.NoError(t, ev.Dispatch(context.Background(), &Event{Type: EventAllReady}))
	assert.Equal(t, []string{"early", "mid-1", "mid-2", "late"}, order)

	assert.NoError(t, ev.Dispatch(context.Background(), &Event{Type: EventBeforeServerStart}))
}

func TestEventsStopAtFirstFailure(t *testing.T) {
	ev := NewEvents(nil)
	boom := errors.New("boom")
	ran := 0
	ev.On(EventPluginStartFail, func(ctx context.Context, e *Event) error { ran++; return boom }, 0)
	ev.On(EventPluginStartFail, func(ctx context.Context, e *Event) error { ran++; return nil }, 1)

	err := ev.Dispatch(context.Background(), &Event{Type: EventPluginStartFail, Plugin: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ran)
}

func TestEventsRecoverPanics(t *testing.T) {
	ev := NewEvents(nil)
	ev.On(EventAllReady, func(ctx context.Context, e *Event) error { panic("bad handler") }, 0)

	err := ev.Dispatch(context.Background(), &Event{Type: EventAllReady})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad handler", pe.Value)
}
