package ecs

import "github.com/rotisserie/eris"

var (
	// ErrStaleEntity is returned when an EntityId is dead, was recycled, or never existed.
	ErrStaleEntity = eris.New("stale entity")
	// ErrUnknownComponent is returned when a ComponentId was never registered.
	ErrUnknownComponent = eris.New("unknown component")
	// ErrLayoutFrozen is returned when a component layout is changed after a table stores it.
	ErrLayoutFrozen = eris.New("component layout is frozen")
	// ErrInvalidLayout is returned for layouts the column storage cannot represent.
	ErrInvalidLayout = eris.New("invalid component layout")
	// ErrAllocationFailure is returned when a table cannot grow. The table is left unchanged.
	ErrAllocationFailure = eris.New("table allocation failure")
	// ErrDeferLoopDetected is returned when a command buffer flush keeps producing new generations of ops.
	ErrDeferLoopDetected = eris.New("deferred command loop detected")
	// ErrConflictingAccessDeclaration is a registration diagnostic: a system both reads and writes a component.
	ErrConflictingAccessDeclaration = eris.New("conflicting access declaration")
	// ErrAccessViolation is returned in strict mode when a system touches a component outside its declared sets.
	ErrAccessViolation = eris.New("access violation")
	// ErrComponentNotOnEntity is returned when reading a component the entity does not have.
	ErrComponentNotOnEntity = eris.New("component not on entity")
	// ErrTypeMismatch is returned when a value does not match the component's registered type.
	ErrTypeMismatch = eris.New("component value type mismatch")
	// ErrUnknownPhase is returned when registering or running a phase that is not in the pipeline.
	ErrUnknownPhase = eris.New("unknown phase")
)
