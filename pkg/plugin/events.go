package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hivecore/pkg/logging"
)

type EventType string

const (
	EventBeforeServerStart  EventType = "before_server_start"
	EventAfterServerStart   EventType = "after_server_start"
	EventPluginStartSuccess EventType = "plugin_start_success"
	EventPluginStartFail    EventType = "plugin_start_fail"
	EventAfterProcessStart  EventType = "after_process_start"
	EventAllReady           EventType = "all_ready"
)

type Event struct {
	Type   EventType
	Plugin string
	Err    error
	Data   map[string]interface{}
}

type EventHandler func(ctx context.Context, ev *Event) error

type handlerRegistration struct {
	handler  EventHandler
	priority int
}

// Events dispatches lifecycle events to handlers in ascending priority.
// Handlers with equal priority run in registration order.
type Events struct {
	mu       sync.RWMutex
	handlers map[EventType][]*handlerRegistration
	logger   logging.Logger
}

func NewEvents(logger logging.Logger) *Events {
	return &Events{
		handlers: make(map[EventType][]*handlerRegistration),
		logger:   logging.OrNoOp(logger),
	}
}

func (e *Events) On(t EventType, handler EventHandler, priority int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs := append(e.handlers[t], &handlerRegistration{handler: handler, priority: priority})
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].priority < hs[j].priority })
	e.handlers[t] = hs
	e.logger.Debug("event handler registered", "event", t, "priority", priority)
}

// Dispatch runs the handlers for ev.Type. The first failing handler stops
// the dispatch; its error is logged and returned. A panicking handler counts
// as failing.
func (e *Events) Dispatch(ctx context.Context, ev *Event) error {
	e.mu.RLock()
	hs := e.handlers[ev.Type]
	e.mu.RUnlock()

	for _, h := range hs {
		err := guard(ev.Plugin, func() error { return h.handler(ctx, ev) })
		if err != nil {
			e.logger.Error("event handler failed", "event", ev.Type, "plugin", ev.Plugin, "error", err)
			return fmt.Errorf("event %s handler failed: %w", ev.Type, err)
		}
	}
	return nil
}
