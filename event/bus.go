// Package event is a small named-event publish/subscribe bus. Components hold
// a *Bus rather than embedding one.
package event

import "sync"

// Handler receives the payload passed to Fire.
type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches named events to subscribers in subscription order.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for name and returns a function removing it.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(name, id) })
	}
}

func (b *Bus) unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Fire calls every handler subscribed to name. Handlers run on the calling
// goroutine, outside the bus lock, so they may subscribe or unsubscribe.
func (b *Bus) Fire(name string, payload any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[name]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// Clear removes every handler for name.
func (b *Bus) Clear(name string) {
	b.mu.Lock()
	delete(b.subs, name)
	b.mu.Unlock()
}

// Count returns the number of handlers subscribed to name.
func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
