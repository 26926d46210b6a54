package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event represents a session event for the presentation layer.
type Event struct {
	Type      string         // e.g. "message.appended", "session.navigate"
	Source    string         // originating session ID
	Payload   map[string]any // event-specific data, keys below
	Timestamp time.Time      // when the event was created
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides a topic-based publish/subscribe event system.
// It supports wildcard subscriptions and event history replay.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     atomic.Uint64
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates a new EventBus with a bounded history replay buffer.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + strconv.FormatUint(eb.nextID.Add(1), 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			next := make([]namedHandler, 0, len(handlers)-1)
			next = append(next, handlers[:i]...)
			eb.handlers[eventType] = append(next, handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all registered handlers.
// Handlers are called synchronously in order; a panicking handler is logged
// and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)

	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	if event.Type != "*" {
		handlers = append(handlers, eb.handlers["*"]...)
	}
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events matching the given type since the given time.
// Use "*" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// --- Well-known event types ---
const (
	EventMessageAppended  = "message.appended"   // Payload[KeyMessage] domain.Message
	EventNavigate         = "session.navigate"   // Payload[KeyTarget] string
	EventNotice           = "session.notice"     // Payload[KeyText], Payload[KeyLevel]
	EventInputChanged     = "input.changed"      // Payload[KeyText] string
	EventVoiceInputState  = "voice.input.state"  // Payload[KeyState] domain.VoiceState
	EventVoiceOutputState = "voice.output.state" // Payload[KeySpeaking] bool
	EventSpeechToggled    = "voice.output.toggled"
	EventSessionClosed    = "session.closed"
)

// Payload keys.
const (
	KeyMessage  = "message"
	KeyTarget   = "target"
	KeyText     = "text"
	KeyLevel    = "level"
	KeyState    = "state"
	KeySpeaking = "speaking"
	KeyEnabled  = "enabled"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)
