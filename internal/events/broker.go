package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 32

// Broker fans typed events out to subscriber channels.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; calling it more than once is safe.
func (b *Broker[T]) Subscribe(size int) (<-chan T, func()) {
	if size <= 0 {
		size = defaultBuffer
	}
	ch := make(chan T, size)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if cur, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(cur)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Broker[T]) Publish(ev T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Broker[T]) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close closes every subscriber channel and rejects future subscriptions.
func (b *Broker[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
