package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(*Event)

// Bus is a simple typed publish/subscribe event bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]Handler
	anySubs []Handler
	log     zerolog.Logger
	nowFunc func() time.Time
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs:    make(map[EventType][]Handler),
		log:     log.With().Str("component", "event_bus").Logger(),
		nowFunc: time.Now,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler for every event type.
// Used by the websocket hub to stream everything to clients.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anySubs = append(b.anySubs, h)
}

// Emit publishes a typed event. A panicking handler is recovered and
// logged so one bad subscriber cannot break the emitter.
func (b *Bus) Emit(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Timestamp: b.nowFunc(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type])+len(b.anySubs))
	handlers = append(handlers, b.subs[event.Type]...)
	handlers = append(handlers, b.anySubs...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Interface("panic", p).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
