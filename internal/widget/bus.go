// Package widget carries open/prefill signals from launchers to chat
// widgets.
package widget

import "sync"

// Signal asks widgets to open, optionally pre-filling the input field.
type Signal struct {
	Open    bool   `json:"open"`
	Prefill string `json:"prefill,omitempty"`
}

// Bus is a one-to-many signal channel shared by launchers and widgets.
type Bus interface {
	Publish(sig Signal)
	// Subscribe registers fn and returns a function removing it.
	Subscribe(fn func(Signal)) func()
}

// MemoryBus is an in-process Bus. Publish calls every subscriber
// synchronously in subscription order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]func(Signal)
	order  []uint64
	nextID uint64
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]func(Signal))}
}

// Publish delivers sig to the current subscribers.
func (b *MemoryBus) Publish(sig Signal) {
	b.mu.RLock()
	fns := make([]func(Signal), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Len reports the number of subscribers.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

func (b *MemoryBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}
