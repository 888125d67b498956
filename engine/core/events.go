package core

import "sync"

// System event codes. Application codes should start above MaxSystemEventCode.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EventCodeApplicationQuit SystemEventCode = iota + 1
	// Data: *KeyEvent
	EventCodeKeyPressed
	// Data: *KeyEvent
	EventCodeKeyReleased
	// Framebuffer size changed. Data: *ResizeEvent
	EventCodeResized
	// Configuration file changed on disk. Data: the freshly parsed config.
	EventCodeConfigReloaded

	MaxSystemEventCode SystemEventCode = 0xFF
)

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

type KeyEvent struct {
	Key      int
	Scancode int
	Mods     int
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

// Should return true if handled.
type FnOnEvent func(context EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events synchronously on the goroutine calling Fire.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

// Register listens for events sent with code. A listener can register once per code; a
// duplicate returns false.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire delivers the event to listeners in registration order until one handles it.
func (b *EventBus) Fire(context EventContext) bool {
	b.mu.RLock()
	events := append([]registeredEvent(nil), b.registered[context.Type]...)
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(context) {
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.registered)
}
