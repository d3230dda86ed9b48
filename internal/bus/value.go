// Package bus provides the publish/subscribe primitives the connection
// manager exposes to observers: a last-value-wins cell and a
// fire-and-forget broadcaster.
package bus

import "sync"

// Value holds the most recent value of T. Every subscriber first receives
// the current value (if one was ever set) and then each later change.
// Subscribers that fall behind only ever see the newest value.
// Safe for concurrent use.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	set    bool
	closed bool
	subs   map[chan T]struct{}
}

// NewValue creates an empty Value.
func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[chan T]struct{})}
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur = x
	v.set = true
	for ch := range v.subs {
		offer(ch, x)
	}
}

// Get returns the current value and whether one was ever set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur, v.set
}

// Subscribe returns a channel carrying the current value and all later
// ones, plus a cancel func that unsubscribes and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if v.set {
		ch <- v.cur
	}
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
		})
	}
}

// Close closes every subscriber channel. Later Sets are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for ch := range v.subs {
		delete(v.subs, ch)
		close(ch)
	}
}

// offer places x in the single-slot ch, replacing a stale unread value.
// Only the holder of the Value lock sends, so the final send cannot block.
func offer[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- x
}
