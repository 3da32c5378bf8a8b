package kv

import (
	"context"
	"sync"
)

// watchers fans key writes out to Watch channels. Each channel holds at most
// one pending value; a newer write replaces an unread one.
type watchers struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[string]map[chan []byte]struct{})}
}

func (w *watchers) add(ctx context.Context, key string) <-chan []byte {
	ch := make(chan []byte, 1)

	w.mu.Lock()
	if w.subs[key] == nil {
		w.subs[key] = make(map[chan []byte]struct{})
	}
	w.subs[key][ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		delete(w.subs[key], ch)
		if len(w.subs[key]) == 0 {
			delete(w.subs, key)
		}
		close(ch)
		w.mu.Unlock()
	}()
	return ch
}

func (w *watchers) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, len(w.subs))
	for k := range w.subs {
		keys = append(keys, k)
	}
	return keys
}

func (w *watchers) notify(key string, value []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs[key] {
		v := append([]byte(nil), value...)
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}
