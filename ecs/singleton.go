package ecs

// Singleton provides access to a single component instance stored on a dedicated world entity.
// Use it for global state, configuration or other data that is not about any particular entity.
// Every singleton of a world lives on the same holder entity, so queries requiring T also see it.
type Singleton[T any] struct {
	world *World
	comp  ComponentId
}

// NewSingleton registers T if needed and guarantees the singleton exists, created with the
// initializer value or the zero value. While the world is deferring, it exists after the
// deferred changes are applied.
func NewSingleton[T any](w *World, initializer ...T) (*Singleton[T], error) {
	s := &Singleton[T]{}
	if err := s.Init(w); err != nil {
		return nil, err
	}
	if s.Exists() {
		return s, nil
	}

	var value T
	if len(initializer) > 0 {
		value = initializer[0]
	}
	if err := s.Set(value); err != nil {
		return nil, err
	}
	return s, nil
}

// Init binds the singleton to w.
// This is called automatically by the Scheduler for Singleton fields of struct systems.
func (s *Singleton[T]) Init(w *World) error {
	s.world = w
	s.comp = RegisterComponent[T](w.registry)
	return nil
}

// Get returns a pointer to the singleton value, or nil if it has not been set.
func (s *Singleton[T]) Get() *T {
	if s.world == nil {
		return nil
	}
	holder, ok := s.world.singletonHolder(false)
	if !ok {
		return nil
	}
	v, err := s.world.Get(holder, s.comp)
	if err != nil {
		return nil
	}
	ptr, _ := v.(*T)
	return ptr
}

// Set replaces the singleton value.
func (s *Singleton[T]) Set(value T) error {
	return s.world.SetSingleton(s.comp, value)
}

// Exists returns true if the singleton has been set
func (s *Singleton[T]) Exists() bool {
	return s.Get() != nil
}

// SingletonEntity returns the entity holding the world's singletons, if any singleton was set.
func (w *World) SingletonEntity() (EntityId, bool) {
	return w.singletonHolder(false)
}

// SetSingleton sets the singleton value of comp, creating the holder entity if needed.
func (w *World) SetSingleton(comp ComponentId, value any) error {
	holder, _ := w.singletonHolder(true)
	return w.Set(holder, comp, value)
}

// singletonHolder returns the entity holding every singleton, creating it when create is set.
func (w *World) singletonHolder(create bool) (EntityId, bool) {
	w.singletonMu.Lock()
	defer w.singletonMu.Unlock()
	if w.singleton != 0 && (w.IsAlive(w.singleton) || w.store.entities.isPending(w.singleton)) {
		return w.singleton, true
	}
	if !create {
		return 0, false
	}
	id, err := w.Create()
	if err != nil {
		w.logger.Error().Err(err).Msg("creating singleton holder")
		return 0, false
	}
	w.singleton = id
	return id, true
}
