/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventScheduleChanged  EventType = "schedule.changed"
	EventSelectionChanged EventType = "selection.changed"
	EventLiveChanged      EventType = "live.changed"
	EventBlackoutChanged  EventType = "blackout.changed"
	EventPlaybackTick     EventType = "playback.tick"
	EventPlaybackFinished EventType = "playback.finished"
	EventAdvanceDue       EventType = "schedule.advance_due"

	EventTargetRegistered EventType = "target.registered"
	EventTargetLost       EventType = "target.lost"
	EventTargetUpdated    EventType = "target.updated"
	EventTargetRemoved    EventType = "target.removed"

	// Cache invalidation events
	EventContentUpdated EventType = "content.updated"
	EventContentDeleted EventType = "content.deleted"
)

// AllEventTypes lists every event a UI may subscribe to.
var AllEventTypes = []EventType{
	EventScheduleChanged,
	EventSelectionChanged,
	EventLiveChanged,
	EventBlackoutChanged,
	EventPlaybackTick,
	EventPlaybackFinished,
	EventAdvanceDue,
	EventTargetRegistered,
	EventTargetLost,
	EventTargetUpdated,
	EventTargetRemoved,
	EventContentUpdated,
	EventContentDeleted,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is anything events can be published to.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a Publisher that also supports subscriptions.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(EventType, Payload) {}
