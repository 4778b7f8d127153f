package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted during frame N are
// delivered in frame N+1 when the frame goroutine calls SwapBuffers and
// DispatchAll. Emit may be called from any goroutine; the transport
// watchers emit from their own.
type Bus struct {
	mu       sync.Mutex // protects back and handlers
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]any),
	}
}

// Emit queues an event into the back buffer (delivered next frame).
func Emit[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	b.back[t] = append(b.back[t], event)
	b.mu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], fn)
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once per frame, before DispatchAll.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
	b.mu.Unlock()
}

// DispatchAll delivers all front-buffer events to their subscribed handlers
// and returns how many events were delivered.
func (b *Bus) DispatchAll() int {
	b.mu.Lock()
	handlers := make(map[reflect.Type][]any, len(b.handlers))
	for t, hs := range b.handlers {
		handlers[t] = hs
	}
	b.mu.Unlock()

	n := 0
	for t, events := range b.front {
		for _, ev := range events {
			for _, h := range handlers[t] {
				// Subscribe and Emit key on the same type, so the call is safe.
				callHandler(h, ev)
			}
			n++
		}
	}
	return n
}

// Pending returns the number of events waiting in the back buffer.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, events := range b.back {
		n += len(events)
	}
	return n
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}
