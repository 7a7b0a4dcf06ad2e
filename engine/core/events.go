package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * width := data.U32[0]
	 * height := data.U32[1]
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	// A node was attached to the scene.
	/* Context usage:
	 * node := data.Data.(*scene.SceneNode)
	 */
	EVENT_CODE_SCENE_NODE_ADDED SystemEventCode = 0x10

	// A node was detached from the scene.
	EVENT_CODE_SCENE_NODE_REMOVED SystemEventCode = 0x11

	// A material pass changed (blend mode, textures, alpha func...).
	/* Context usage:
	 * material := data.Data.(*scene.Material)
	 */
	EVENT_CODE_MATERIAL_CHANGED SystemEventCode = 0x12

	// Any other structural scene change (geometry swap, reload).
	EVENT_CODE_SCENE_CHANGED SystemEventCode = 0x13

	// The graphics device was lost, every GPU resource must be recreated.
	EVENT_CODE_DEVICE_LOST SystemEventCode = 0x20

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

type EventContext struct {
	Type SystemEventCode
	U32  [4]uint32
	Data interface{}
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events synchronously on the firing goroutine.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

/**
 * @brief Register to listen for when events are sent with the provided code. Events with duplicate
 * listener combos will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Used as identity for unregistering.
 * @param onEvent The callback to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * @brief Unregister from listening for when events are sent with the provided code.
 * @returns true if the event is successfully unregistered; otherwise false.
 */
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * @brief Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (b *EventBus) Fire(ctx EventContext) bool {
	b.mu.RLock()
	events := b.registered[ctx.Type]
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(ctx) {
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	b.registered = make(map[SystemEventCode][]*registeredEvent)
	b.mu.Unlock()
}

var defaultBus = NewEventBus()

// DefaultEventBus is the process wide bus used by the engine loop.
func DefaultEventBus() *EventBus { return defaultBus }

func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	return defaultBus.Register(code, listener, onEvent)
}

func EventUnregister(code SystemEventCode, listener interface{}) bool {
	return defaultBus.Unregister(code, listener)
}

func EventFire(ctx EventContext) bool {
	return defaultBus.Fire(ctx)
}
