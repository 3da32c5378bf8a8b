// Package feed provides board.ChangeFeed variants: an in-process broadcast
// hub, periodic re-fetch of the store, and push subscriptions on PostgreSQL
// LISTEN/NOTIFY, Kafka and MQTT.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"safeboard/internal/board"
)

const subscriberBuffer = 8

// Hub is an in-process ChangeFeed with non-blocking fan-out. A subscriber
// that falls behind loses its oldest pending rows, never the newest.
//
// The remote variants embed a Hub and feed it from their transport.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan board.AccidentConfig]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan board.AccidentConfig]struct{})}
}

// Publish delivers cfg to every current subscriber.
func (h *Hub) Publish(ctx context.Context, cfg board.AccidentConfig) error {
	h.broadcast(cfg)
	return nil
}

func (h *Hub) broadcast(cfg board.AccidentConfig) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for ch := range h.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full: make room by discarding the oldest pending row.
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case ch <- cfg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of published rows, closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) (<-chan board.AccidentConfig, error) {
	ch := make(chan board.AccidentConfig, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch, nil
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var _ board.ChangeFeed = (*Hub)(nil)
