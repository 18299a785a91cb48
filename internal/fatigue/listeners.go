package fatigue

import (
	"sync"
	"sync/atomic"
)

type listenerSlot[E any] struct {
	fn     func(E)
	active atomic.Bool
}

// registry keeps callbacks in registration order. Emit iterates over a
// snapshot, so a callback may unsubscribe itself (or others) mid-dispatch.
type registry[E any] struct {
	mu    sync.Mutex
	slots []*listenerSlot[E]
}

func (r *registry[E]) add(fn func(E)) func() {
	slot := &listenerSlot[E]{fn: fn}
	slot.active.Store(true)

	r.mu.Lock()
	r.slots = append(r.slots, slot)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(slot) })
	}
}

func (r *registry[E]) remove(slot *listenerSlot[E]) {
	slot.active.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.slots {
		if s == slot {
			// fresh slice: snapshots held by an in-flight emit stay intact
			next := make([]*listenerSlot[E], 0, len(r.slots)-1)
			next = append(next, r.slots[:i]...)
			next = append(next, r.slots[i+1:]...)
			r.slots = next
			return
		}
	}
}

func (r *registry[E]) emit(ev E) {
	r.mu.Lock()
	snapshot := r.slots
	r.mu.Unlock()

	for _, s := range snapshot {
		if s.active.Load() {
			s.fn(ev)
		}
	}
}

func (r *registry[E]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
