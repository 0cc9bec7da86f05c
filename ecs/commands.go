package ecs

import (
	"sync"

	"github.com/plus3/colony/internal/statsd"
	"github.com/rotisserie/eris"
)

// OpKind is the kind of structural change recorded by a DeferredOp.
type OpKind uint8

const (
	OpCreate OpKind = iota
	OpDestroy
	OpAdd
	OpRemove
	OpSet
	OpFunc
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpDestroy:
		return "destroy"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpSet:
		return "set"
	case OpFunc:
		return "func"
	}
	return "unknown"
}

// DeferredOp is a recorded structural change replayed at flush.
type DeferredOp struct {
	Kind      OpKind
	Entity    EntityId
	Component ComponentId
	Value     any
	Fn        func(w *World) error
}

// Commands buffers structural changes and replays them in FIFO order.
// Any number of goroutines may record into the buffer at once.
type Commands struct {
	mu       sync.Mutex
	world    *World
	ops      []DeferredOp
	flushing bool
}

func newCommands(world *World) *Commands {
	return &Commands{world: world}
}

// Defer appends op to the queue.
func (c *Commands) Defer(op DeferredOp) {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
}

// Create reserves an entity ID and queues its creation. The entity becomes alive at flush.
func (c *Commands) Create() EntityId {
	id := c.world.store.entities.reserve()
	c.Defer(DeferredOp{Kind: OpCreate, Entity: id})
	return id
}

// Destroy queues an entity destruction.
func (c *Commands) Destroy(entity EntityId) {
	c.Defer(DeferredOp{Kind: OpDestroy, Entity: entity})
}

// Add queues a component addition.
func (c *Commands) Add(entity EntityId, component ComponentId) {
	c.Defer(DeferredOp{Kind: OpAdd, Entity: entity, Component: component})
}

// Remove queues a component removal.
func (c *Commands) Remove(entity EntityId, component ComponentId) {
	c.Defer(DeferredOp{Kind: OpRemove, Entity: entity, Component: component})
}

// Set queues a component write, adding the component if needed. The value is captured now:
// a *T is dereferenced and raw bytes are copied.
func (c *Commands) Set(entity EntityId, component ComponentId, value any) {
	if info, err := c.world.registry.Lookup(component); err == nil {
		value = detachValue(info, value)
	}
	c.Defer(DeferredOp{Kind: OpSet, Entity: entity, Component: component, Value: value})
}

// Func queues an arbitrary function executed during the flush.
func (c *Commands) Func(fn func(w *World) error) {
	c.Defer(DeferredOp{Kind: OpFunc, Fn: fn})
}

// Len returns the number of queued ops.
func (c *Commands) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func (c *Commands) take() []DeferredOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := c.ops
	c.ops = nil
	return ops
}

// Flush replays every queued op against the world, then clears the queue.
// Ops queued while a generation is replaying form the next generation, flushed after it.
// More than Config.MaxDeferGenerations generations fails with ErrDeferLoopDetected and drops
// the remaining ops. Ops on entities that died earlier are skipped; the first other failure is
// returned after the replay completes. Flush does nothing while the world is deferring, so a
// system cannot apply changes under a running iteration.
func (c *Commands) Flush() error {
	if c.world.Deferring() {
		return nil
	}
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return nil
	}
	c.flushing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.flushing = false
		c.mu.Unlock()
	}()

	w := c.world
	var firstErr error
	applied := 0
	for generation := 0; ; generation++ {
		batch := c.take()
		if len(batch) == 0 {
			break
		}
		if generation >= w.config.MaxDeferGenerations {
			w.logger.Error().
				Int("generations", generation).
				Int("dropped", len(batch)).
				Msg("command buffer keeps deferring")
			c.dropReservations(batch)
			return eris.Wrapf(ErrDeferLoopDetected, "%d generations", generation)
		}

		for _, op := range batch {
			err := w.apply(op)
			applied++
			if err == nil {
				continue
			}
			if eris.Is(err, ErrStaleEntity) {
				w.logger.Debug().
					Str("op", op.Kind.String()).
					Str("entity", op.Entity.String()).
					Msg("skipping deferred op on stale entity")
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if applied > 0 {
		w.logger.Debug().Int("ops", applied).Msg("command buffer flushed")
		statsd.EmitCount("flush.ops", int64(applied))
	}
	return firstErr
}

// dropReservations frees the ids reserved by creates that will never run.
func (c *Commands) dropReservations(ops []DeferredOp) {
	x := c.world.store.entities
	for _, op := range ops {
		if op.Kind == OpCreate && x.isPending(op.Entity) {
			_ = x.release(op.Entity)
		}
	}
}
