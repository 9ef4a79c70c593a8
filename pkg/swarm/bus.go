// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/eren23/attocode-sub003/pkg/logger"
)

// EventBus is the in-process pub/sub channel for swarm events. Subscribers
// observe events in emit order; a misbehaving subscriber never affects the
// emitter or the other subscribers. History is a bounded ring.
//
// Handlers must not call Emit synchronously; delivery happens under the bus
// lock to preserve ordering.
type EventBus struct {
	mu       sync.Mutex
	subs     map[int]func(SwarmEvent)
	subOrder []int
	nextID   int

	history    []SwarmEvent
	historyCap int

	sink *os.File
}

// Subscription undoes a Subscribe.
type Subscription struct {
	bus *EventBus
	id  int
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; !ok {
		return
	}
	delete(s.bus.subs, s.id)
	for i, id := range s.bus.subOrder {
		if id == s.id {
			s.bus.subOrder = append(s.bus.subOrder[:i], s.bus.subOrder[i+1:]...)
			break
		}
	}
	s.bus = nil
}

// NewEventBus creates a bus with the default history cap.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:       make(map[int]func(SwarmEvent)),
		historyCap: EventHistoryCap,
	}
}

// EnablePersistence appends one JSON object per line per event to path.
// Best-effort: I/O failures are logged and never surface to the emitter.
func (b *EventBus) EnablePersistence(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil {
		b.sink.Close()
	}
	b.sink = file
	return nil
}

// Close releases the persistence sink, if any.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil {
		b.sink.Close()
		b.sink = nil
	}
}

// Subscribe registers a handler for every subsequent event.
func (b *EventBus) Subscribe(handler func(SwarmEvent)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.subOrder = append(b.subOrder, id)
	return &Subscription{bus: b, id: id}
}

// Emit publishes an event to history, the JSONL sink, and all subscribers.
func (b *EventBus) Emit(event SwarmEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}

	if b.sink != nil {
		if raw, err := json.Marshal(event); err == nil {
			if _, err := b.sink.Write(append(raw, '\n')); err != nil {
				logger.WarnCF("swarm", "Event persistence write failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}

	for _, id := range b.subOrder {
		handler := b.subs[id]
		b.deliver(handler, event)
	}
}

// deliver isolates subscriber panics from the emitter.
func (b *EventBus) deliver(handler func(SwarmEvent), event SwarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.WarnCF("swarm", "Event subscriber panicked", map[string]any{
				"event": string(event.Type),
				"panic": r,
			})
		}
	}()
	handler(event)
}

// Recent returns the last n events in emit order.
func (b *EventBus) Recent(n int) []SwarmEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.history) == 0 {
		return nil
	}
	if n > len(b.history) {
		n = len(b.history)
	}
	out := make([]SwarmEvent, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// History returns all retained events in emit order.
func (b *EventBus) History() []SwarmEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SwarmEvent, len(b.history))
	copy(out, b.history)
	return out
}
