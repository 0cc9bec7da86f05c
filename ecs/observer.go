package ecs

import "sync"

// Event is a component lifecycle event an observer can subscribe to.
type Event uint8

const (
	// OnAdd fires after a component is added to an entity.
	OnAdd Event = iota
	// OnRemove fires before a component is removed, so the value is still readable.
	OnRemove
	// OnSet fires after a component value is written.
	OnSet
)

func (e Event) String() string {
	switch e {
	case OnAdd:
		return "OnAdd"
	case OnRemove:
		return "OnRemove"
	case OnSet:
		return "OnSet"
	}
	return "unknown"
}

// ObserverFunc is called synchronously with the entity the event concerns.
// Structural changes it makes are applied immediately unless the world is deferring.
type ObserverFunc func(w *World, entity EntityId, component ComponentId)

type observerKey struct {
	event     Event
	component ComponentId
}

type observers struct {
	mu      sync.RWMutex
	byKey   map[observerKey][]ObserverFunc
	byEvent [OnSet + 1]int
}

func newObservers() *observers {
	return &observers{byKey: make(map[observerKey][]ObserverFunc)}
}

func (o *observers) any(event Event) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.byEvent[event] > 0
}

func (o *observers) emit(w *World, event Event, component ComponentId, entity EntityId) {
	o.mu.RLock()
	fns := o.byKey[observerKey{event, component}]
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(w, entity, component)
	}
}

// Observe registers fn for event on component.
func (w *World) Observe(event Event, component ComponentId, fn ObserverFunc) error {
	if err := w.registry.validate(Signature{component}); err != nil {
		return err
	}
	o := w.observers
	o.mu.Lock()
	defer o.mu.Unlock()
	key := observerKey{event, component}
	o.byKey[key] = append(o.byKey[key], fn)
	o.byEvent[event]++
	return nil
}
