// Package eventbus is the bot-wide publish/subscribe channel for
// types.BotEvent, with a non-blocking, drop-on-full send: strategies, the
// supervisor and the order manager publish to it, and the dashboard
// projection is its subscriber.
package eventbus

import (
	"log/slog"
	"sync"

	"polymarket-mm/pkg/types"
)

const subscriberBuffer = 256

// Bus fans a single stream of BotEvents out to any number of subscribers.
// Publish never blocks: a subscriber that falls behind has events dropped
// for it rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan types.BotEvent
	nextID int
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[int]chan types.BotEvent), logger: logger}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. Callers must drain the channel or call unsubscribe
// to avoid leaking the registration.
func (b *Bus) Subscribe() (<-chan types.BotEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.BotEvent, subscriberBuffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish delivers evt to every current subscriber without blocking. A
// subscriber whose buffer is full has this event dropped and a warning
// logged; the bus never backpressures the caller.
func (b *Bus) Publish(evt types.BotEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.logger != nil {
				b.logger.Warn("eventbus: dropping event, subscriber buffer full",
					"subscriber", id, "event_type", evt.Type)
			}
		}
	}
}
