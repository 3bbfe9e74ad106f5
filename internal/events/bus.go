// Package events provides the in-process event bus used to fan out run
// lifecycle and system events to the SSE/WebSocket streams.
package events

import (
	"sync"
	"time"
)

// EventType identifies a class of event
type EventType string

const (
	RunStarted           EventType = "run_started"
	RunProgress          EventType = "run_progress"
	MeasurementRecorded  EventType = "measurement_recorded"
	RunCompleted         EventType = "run_completed"
	RunFailed            EventType = "run_failed"
	BackendStatusChanged EventType = "backend_status_changed"
	DriftDetected        EventType = "drift_detected"
	SettingsChanged      EventType = "settings_changed"
	JobCompleted         EventType = "job_completed"
)

// Event is a single bus message
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Handler receives events for a subscribed type
type Handler func(event *Event)

// subscription pairs a handler with a removable identity; funcs are not
// comparable, so removal goes through the id.
type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a simple synchronous publish/subscribe bus.
// Handlers must not block: streaming consumers buffer internally and drop
// on overflow rather than stalling the emitter.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]subscription
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for an event type. The returned function
// removes the subscription; long-lived subscribers may ignore it.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i := range subs {
			if subs[i].id == id {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers an event to all handlers subscribed to its type
func (b *Bus) Emit(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event.Type]))
	copy(subs, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

// EmitTyped builds an Event from a typed payload and delivers it
func (b *Bus) EmitTyped(module string, data EventData) {
	b.Emit(&Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: time.Now(),
		Data:      data.ToMap(),
	})
}
