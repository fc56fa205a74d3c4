// Package broker provides an in-memory pub/sub hub scoped by room code.
// It fans queue change signals and host pulses out to every open sync
// channel of a room.
package broker

import (
	"sync"

	"github.com/tunr/backend/internal/engine"
)

// Subscriber is one open channel's mailbox. Changes is buffered to 1 so rapid
// publishes coalesce into a single signal. Pulses is buffered to 1 and keeps
// only the newest pulse, since a stale position is worthless.
type Subscriber struct {
	Changes chan struct{}
	Pulses  chan engine.Pulse
}

// Broker is a room-scoped pub/sub hub.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

// New creates a ready-to-use Broker.
func New() *Broker {
	return &Broker{
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber for room.
func (b *Broker) Subscribe(room string) *Subscriber {
	sub := &Subscriber{
		Changes: make(chan struct{}, 1),
		Pulses:  make(chan engine.Pulse, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[room] == nil {
		b.subs[room] = make(map[*Subscriber]struct{})
	}
	b.subs[room][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub from the room's subscriber set.
// If the room has no remaining subscribers, the entry is cleaned up.
func (b *Broker) Unsubscribe(room string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[room]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, room)
		}
	}
}

// PublishChange signals every subscriber of room without blocking.
// A pending unread signal is not duplicated.
func (b *Broker) PublishChange(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[room] {
		select {
		case sub.Changes <- struct{}{}:
		default:
		}
	}
}

// PublishPulse delivers p to every subscriber of room except from, replacing
// any pulse they have not read yet. It returns how many subscribers got it.
func (b *Broker) PublishPulse(room string, from *Subscriber, p engine.Pulse) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for sub := range b.subs[room] {
		if sub == from {
			continue
		}
		select {
		case sub.Pulses <- p:
		default:
			select {
			case <-sub.Pulses:
			default:
			}
			select {
			case sub.Pulses <- p:
			default:
			}
		}
		n++
	}
	return n
}

// Subscribers returns the number of open subscribers for room.
func (b *Broker) Subscribers(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[room])
}
