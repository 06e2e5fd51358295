// Package event provides a small typed publish/subscribe bus. Components
// embed a Bus and declare package-level keys for the events they emit:
//
//	var EventReady = event.NewKey[Info]("ready")
//
//	off := event.On(x.Events(), EventReady, func(info Info) { ... })
//	defer off()
//
// Handlers run synchronously in registration order on the emitting
// goroutine. Emit works on a snapshot, so handlers may subscribe or
// unsubscribe (including themselves) while an event is being delivered.
package event

import "sync"

type key struct {
	name string
}

// Key identifies an event carrying a payload of type T. Keys compare by
// identity, two NewKey calls with the same name are distinct events.
type Key[T any] struct {
	k *key
}

// NewKey declares a new event.
func NewKey[T any](name string) Key[T] {
	return Key[T]{k: &key{name: name}}
}

// Name returns the event name used in logs.
func (k Key[T]) Name() string {
	if k.k == nil {
		return ""
	}
	return k.k.name
}

type handler struct {
	id   uint64
	once bool
	fn   any
}

// Bus holds handler registrations. The zero value is ready to use.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[*key][]handler
}

// On registers fn for k and returns a function that removes it. Calling the
// returned function more than once is harmless.
func On[T any](b *Bus, k Key[T], fn func(T)) (off func()) {
	return b.add(k.k, fn, false)
}

// Once registers fn to run on the next emission of k only.
func Once[T any](b *Bus, k Key[T], fn func(T)) (off func()) {
	return b.add(k.k, fn, true)
}

// Emit delivers v to every handler registered for k and reports how many
// ran.
func Emit[T any](b *Bus, k Key[T], v T) int {
	b.mu.Lock()
	list := b.handlers[k.k]
	if len(list) == 0 {
		b.mu.Unlock()
		return 0
	}
	snapshot := make([]handler, len(list))
	copy(snapshot, list)
	for _, h := range snapshot {
		if h.once {
			b.removeLocked(k.k, h.id)
		}
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		if !h.once && !b.registered(k.k, h.id) {
			continue
		}
		h.fn.(func(T))(v)
	}
	return len(snapshot)
}

// Count returns the number of handlers registered for k.
func Count[T any](b *Bus, k Key[T]) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[k.k])
}

// Len returns the total number of registered handlers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, list := range b.handlers {
		n += len(list)
	}
	return n
}

// Clear removes every handler.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
}

func (b *Bus) add(k *key, fn any, once bool) func() {
	b.mu.Lock()
	if b.handlers == nil {
		b.handlers = make(map[*key][]handler)
	}
	b.nextID++
	id := b.nextID
	b.handlers[k] = append(b.handlers[k], handler{id: id, once: once, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.removeLocked(k, id)
		b.mu.Unlock()
	}
}

func (b *Bus) removeLocked(k *key, id uint64) {
	list := b.handlers[k]
	for i, h := range list {
		if h.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.handlers, k)
		return
	}
	b.handlers[k] = list
}

func (b *Bus) registered(k *key, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.handlers[k] {
		if h.id == id {
			return true
		}
	}
	return false
}
