package orchestrator

import (
	"sync"
	"time"

	"codeforge/internal/logging"
)

// EventKind names the orchestration lifecycle events.
type EventKind string

const (
	EventPlanningStart     EventKind = "planning-start"
	EventPlanningComplete  EventKind = "planning-complete"
	EventToolExecute       EventKind = "tool-execute"
	EventToolResult        EventKind = "tool-result"
	EventExecutionComplete EventKind = "execution-complete"
	EventTokenUsage        EventKind = "token-usage"
	EventMemoryUpdate      EventKind = "memory-update"
	EventError             EventKind = "orchestration-error"
)

// Event is one orchestration notification.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"ts"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ObserverFunc receives events. Returned errors are swallowed;
// observation must never affect orchestration.
type ObserverFunc func(Event) error

// Emitter fans events out to subscribed observers.
type Emitter struct {
	mu        sync.RWMutex
	observers []ObserverFunc
}

// NewEmitter creates an emitter with no observers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe adds an observer. Subscription order is delivery order.
func (e *Emitter) Subscribe(fn ObserverFunc) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// Emit delivers the event to every observer, fire and forget.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()

	for _, fn := range observers {
		if err := fn(event); err != nil {
			logging.EventsDebug("observer error on %s: %v", event.Kind, err)
		}
	}
}
