package flow

import (
	"sync"
	"time"
)

// EventType names a graph or execution event.
type EventType string

const (
	EventNodeAdded          EventType = "node_added"
	EventNodeRemoved        EventType = "node_removed"
	EventNodeMoved          EventType = "node_moved"
	EventNodeUpdated        EventType = "node_updated"
	EventNodeSelected       EventType = "node_selected"
	EventGraphLoaded        EventType = "graph_loaded"
	EventConnectionCreated  EventType = "connection_created"
	EventConnectionDeleted  EventType = "connection_deleted"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionProgress  EventType = "execution_progress"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionError     EventType = "execution_error"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventSaveStatus         EventType = "save_status"
)

// Event is published to observers whenever the graph or an execution changes.
// The presentation layer subscribes and redraws; the core never renders.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewEvent stamps an event with an ID and the current time.
func NewEvent(typ EventType, payload map[string]any) Event {
	return Event{
		ID:        GenerateID("ev"),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

type EventHandler func(Event)

// EventBus fans events out to subscribers synchronously, in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers ev to every handler. A nil bus drops the event, so
// components can be built without an observer.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
