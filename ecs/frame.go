package ecs

import (
	"github.com/rotisserie/eris"
)

// Frame is what a running system sees: the phase it runs in, the elapsed time and the world.
// Get and Set check the component against the access the system declared.
type Frame struct {
	DeltaTime float64
	Phase     Phase
	World     *World
	Commands  *Commands

	system *systemEntry
}

// System returns the name of the running system
func (f *Frame) System() string {
	if f.system == nil {
		return ""
	}
	return f.system.name
}

// Get reads a component the system declared as read or written.
func (f *Frame) Get(id EntityId, comp ComponentId) (any, error) {
	if err := f.checkAccess(comp, false); err != nil {
		return nil, err
	}
	return f.World.Get(id, comp)
}

// Set writes a component the system declared as written. Adding a missing component is deferred
// until the phase completes.
func (f *Frame) Set(id EntityId, comp ComponentId, value any) error {
	if err := f.checkAccess(comp, true); err != nil {
		return err
	}
	return f.World.Set(id, comp, value)
}

func (f *Frame) checkAccess(comp ComponentId, write bool) error {
	if f.system == nil {
		return nil
	}
	allowed := f.system.canRead(comp)
	if write {
		allowed = f.system.canWrite(comp)
	}
	if allowed {
		return nil
	}

	mode := "read"
	if write {
		mode = "write"
	}
	if f.World.config.StrictAccess {
		return eris.Wrapf(ErrAccessViolation, "system %s %s component %d", f.system.name, mode, comp)
	}
	f.World.logger.Warn().
		Str("system", f.system.name).
		Str("access", mode).
		Uint32("component", uint32(comp)).
		Msg("system accessed a component outside its declared access")
	return nil
}

// Read returns the T component of an entity through the frame's access check.
func Read[T any](f *Frame, id EntityId) (*T, error) {
	comp, err := IdOf[T](f.World.registry)
	if err != nil {
		return nil, err
	}
	v, err := f.Get(id, comp)
	if err != nil {
		return nil, err
	}
	ptr, _ := v.(*T)
	return ptr, nil
}

// Write sets the T component of an entity through the frame's access check.
func Write[T any](f *Frame, id EntityId, value T) error {
	comp, err := IdOf[T](f.World.registry)
	if err != nil {
		return err
	}
	return f.Set(id, comp, value)
}
