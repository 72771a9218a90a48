package console

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventHierarchyLoaded = "hierarchy_loaded"
	EventLocationCreated = "location_created"
	EventLocationUpdated = "location_updated"
	EventLocationDeleted = "location_deleted"
	EventDeviceTwinned   = "device_twinned"
	EventSyncFailed      = "sync_failed"
)

// Event is a console notification, pushed to open pages and downstream consumers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LocationEvent is the payload of the location_* events.
type LocationEvent struct {
	Kind        string `json:"kind"`
	ID          int    `json:"id"`
	ParentID    int    `json:"parent_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Icon        string `json:"icon,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// HierarchyEvent is the payload of hierarchy_loaded.
type HierarchyEvent struct {
	Sites int `json:"sites"`
	Nodes int `json:"nodes"`
}

// SyncFailedEvent is the payload of sync_failed.
type SyncFailedEvent struct {
	Op    string `json:"op"`
	Kind  string `json:"kind,omitempty"`
	ID    int    `json:"id,omitempty"`
	Error string `json:"error"`
}

// TwinEvent is the payload of device_twinned.
type TwinEvent struct {
	DeviceID     string `json:"device_id"`
	DeviceTypeID string `json:"device_type_id"`
	Name         string `json:"name"`
	SiteID       int    `json:"site_id,omitempty"`
	FloorID      int    `json:"floor_id,omitempty"`
	RoomID       int    `json:"room_id,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for console events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type and returns its unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls the matching handlers synchronously. A panicking handler is
// recovered and logged; the rest still run.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
