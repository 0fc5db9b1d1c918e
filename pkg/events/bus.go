package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// historyLimit bounds the per-channel replay buffer. Clients that
// missed more than this get a catchup.overflow and should reload over
// REST.
const historyLimit = 200

// StoredEvent is one event in a channel's replay buffer. IDs are
// per-channel and monotonically increasing from 1.
type StoredEvent struct {
	ID      int
	Payload []byte
}

// Sink receives every published event. The connection manager
// registers itself as a sink.
type Sink interface {
	Broadcast(channel string, event []byte)
}

// Bus is the in-process event bus. Publishing is non-blocking: sinks
// that stall only affect their own clients.
type Bus struct {
	mu      sync.RWMutex
	history map[string][]StoredEvent
	nextID  map[string]int
	sinks   []Sink
	logger  *slog.Logger
}

// NewBus creates a bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		history: make(map[string][]StoredEvent),
		nextID:  make(map[string]int),
		logger:  logger,
	}
}

// AddSink registers a delivery sink. Not safe to call concurrently
// with Publish; wire sinks during startup.
func (b *Bus) AddSink(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Publish serializes the payload, appends it to the channel's replay
// buffer, and fans it out to every sink.
func (b *Bus) Publish(channel string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to serialize event", slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	b.nextID[channel]++
	stored := StoredEvent{ID: b.nextID[channel], Payload: body}
	events := append(b.history[channel], stored)
	if len(events) > historyLimit {
		events = events[len(events)-historyLimit:]
	}
	b.history[channel] = events
	b.mu.Unlock()

	for _, s := range b.sinks {
		s.Broadcast(channel, body)
	}
}

// EventsSince returns the channel's buffered events with ID greater
// than sinceID. overflow reports that older events have been evicted
// and the caller may have missed some.
func (b *Bus) EventsSince(channel string, sinceID int) (events []StoredEvent, overflow bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buffered := b.history[channel]
	if len(buffered) > 0 && buffered[0].ID > sinceID+1 && sinceID > 0 {
		overflow = true
	}
	for _, e := range buffered {
		if e.ID > sinceID {
			events = append(events, e)
		}
	}
	return events, overflow
}
