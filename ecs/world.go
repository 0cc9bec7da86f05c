package ecs

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// World is the runtime facade: it ties the registry, entity index, table storage,
// query engine, command buffer and scheduler together.
//
// Structural changes (create, destroy, add, remove, set of a missing component) made while a
// query iteration or a phase is in progress are deferred into the command buffer and applied
// when the last iteration ends or the phase completes. Writing a component the entity already
// has is always applied in place.
type World struct {
	registry  *ComponentRegistry
	config    Config
	logger    zerolog.Logger
	store     *Storage
	queries   *queryEngine
	commands  *Commands
	scheduler *Scheduler
	observers *observers

	iterating   atomic.Int32
	phaseActive atomic.Bool

	singletonMu sync.Mutex
	singleton   EntityId
}

// Option configures a World.
type Option func(w *World)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *World) {
		w.logger = logger
	}
}

// WithConfig sets the configuration. Zero fields fall back to DefaultConfig.
func WithConfig(config Config) Option {
	return func(w *World) {
		w.config = config
	}
}

// NewWorld creates a world over the given registry.
func NewWorld(registry *ComponentRegistry, opts ...Option) *World {
	w := &World{
		registry: registry,
		config:   DefaultConfig(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.config = w.config.withDefaults()

	w.queries = newQueryEngine(w)
	w.store = newStorage(registry, w.config, w.logger)
	w.store.onTableCreated = w.queries.tableCreated
	w.store.onTableDestroyed = w.queries.tableDestroyed
	w.queries.tableCreated(w.store.root)
	w.commands = newCommands(w)
	w.observers = newObservers()
	w.scheduler = newScheduler(w)
	return w
}

// Registry returns the component registry
func (w *World) Registry() *ComponentRegistry { return w.registry }

// Config returns the effective configuration
func (w *World) Config() Config { return w.config }

// Logger returns the world's logger
func (w *World) Logger() *zerolog.Logger { return &w.logger }

// Storage returns the archetype table storage
func (w *World) Storage() *Storage { return w.store }

// Commands returns the command buffer
func (w *World) Commands() *Commands { return w.commands }

// Scheduler returns the system scheduler
func (w *World) Scheduler() *Scheduler { return w.scheduler }

// Deferring reports whether structural changes are currently queued instead of applied.
func (w *World) Deferring() bool {
	return w.iterating.Load() > 0 || w.phaseActive.Load()
}

func (w *World) beginIteration() {
	w.iterating.Add(1)
}

func (w *World) endIteration() {
	if w.iterating.Add(-1) == 0 && !w.phaseActive.Load() {
		if err := w.commands.Flush(); err != nil {
			w.logger.Error().Err(err).Msg("applying changes deferred during iteration")
		}
	}
}

// Flush applies every deferred change. It does nothing while deferring.
func (w *World) Flush() error {
	if w.Deferring() {
		return nil
	}
	return w.commands.Flush()
}

// Create makes a new entity with no components.
func (w *World) Create() (EntityId, error) {
	if w.Deferring() {
		return w.commands.Create(), nil
	}
	return w.store.create()
}

// Spawn creates an entity holding the given component values, each a registered Go type T or *T,
// in a single table move. While deferring, the entity becomes alive when the changes are applied.
func (w *World) Spawn(values ...any) (EntityId, error) {
	comps := make([]ComponentId, len(values))
	byComp := make(map[ComponentId]any, len(values))
	for i, v := range values {
		t := reflect.TypeOf(v)
		if t == nil {
			return 0, eris.Wrap(ErrUnknownComponent, "nil component value")
		}
		comp, err := w.registry.LookupType(t)
		if err != nil && t.Kind() == reflect.Pointer && !reflect.ValueOf(v).IsNil() {
			comp, err = w.registry.LookupType(t.Elem())
			v = reflect.ValueOf(v).Elem().Interface()
		}
		if err != nil {
			return 0, err
		}
		comps[i] = comp
		byComp[comp] = v
	}

	if w.Deferring() {
		id := w.commands.Create()
		for _, comp := range comps {
			w.commands.Set(id, comp, byComp[comp])
		}
		return id, nil
	}

	id, err := w.store.spawn(NewSignature(comps...), byComp)
	if err != nil {
		return 0, err
	}
	for _, comp := range comps {
		w.observers.emit(w, OnAdd, comp, id)
		w.observers.emit(w, OnSet, comp, id)
	}
	return id, nil
}

// Destroy removes an entity and all of its components.
func (w *World) Destroy(id EntityId) error {
	if err := w.checkEntity(id); err != nil {
		return err
	}
	if w.Deferring() {
		w.commands.Destroy(id)
		return nil
	}
	if w.store.entities.isPending(id) {
		// the queued create finds the id stale and is skipped
		return w.store.entities.release(id)
	}
	return w.destroy(id)
}

// IsAlive reports whether id refers to a live entity
func (w *World) IsAlive(id EntityId) bool {
	return w.store.entities.isAlive(id)
}

// Locate returns the table and row currently holding id
func (w *World) Locate(id EntityId) (*Table, int, error) {
	return w.store.entities.locate(id)
}

// Count returns the number of live entities
func (w *World) Count() int {
	return w.store.entities.count()
}

// Add attaches a default-constructed component. Adding a component the entity has is a no-op.
func (w *World) Add(id EntityId, comp ComponentId) error {
	if err := w.checkEntity(id); err != nil {
		return err
	}
	if err := w.registry.validate(Signature{comp}); err != nil {
		return err
	}
	if w.queues(id) {
		w.commands.Add(id, comp)
		return nil
	}
	return w.add(id, comp)
}

// Remove detaches a component. Removing a component the entity lacks is a no-op.
func (w *World) Remove(id EntityId, comp ComponentId) error {
	if err := w.checkEntity(id); err != nil {
		return err
	}
	if err := w.registry.validate(Signature{comp}); err != nil {
		return err
	}
	if w.queues(id) {
		w.commands.Remove(id, comp)
		return nil
	}
	return w.remove(id, comp)
}

// Set writes a component value, adding the component first if the entity lacks it.
// value is a T or *T for Go types and a []byte of the layout size for raw layouts.
func (w *World) Set(id EntityId, comp ComponentId, value any) error {
	if err := w.checkEntity(id); err != nil {
		return err
	}
	info, err := w.registry.Lookup(comp)
	if err != nil {
		return err
	}
	if err := checkValue(info, value); err != nil {
		return err
	}

	if w.queues(id) {
		t, row, err := w.store.entities.locate(id)
		if err != nil || !t.Has(comp) {
			w.commands.Set(id, comp, value)
			return nil
		}
		return w.setInPlace(id, t, row, comp, value)
	}
	return w.set(id, comp, value)
}

// Get returns the component value: a *T aliasing the column for Go types, a []byte view for
// raw layouts, nil for tags. The pointer is valid until the next structural change of the entity.
func (w *World) Get(id EntityId, comp ComponentId) (any, error) {
	return w.store.get(id, comp)
}

// Ptr returns the address of a component value.
func (w *World) Ptr(id EntityId, comp ComponentId) (unsafe.Pointer, error) {
	t, row, err := w.store.entities.locate(id)
	if err != nil {
		return nil, err
	}
	if !t.Has(comp) {
		return nil, eris.Wrapf(ErrComponentNotOnEntity, "entity %s component %d", id, comp)
	}
	return t.Ptr(comp, row), nil
}

// Has reports whether a live entity has the component
func (w *World) Has(id EntityId, comp ComponentId) bool {
	t, _, err := w.store.entities.locate(id)
	return err == nil && t.Has(comp)
}

// Signature returns the components of a live entity
func (w *World) Signature(id EntityId) (Signature, error) {
	t, _, err := w.store.entities.locate(id)
	if err != nil {
		return nil, err
	}
	return t.signature, nil
}

// Compile returns the query for filter. Equal filters share one query.
func (w *World) Compile(filter Filter) *Query {
	return w.queries.compile(filter, w.store.Tables())
}

// Query compiles a filter requiring the given components
func (w *World) Query(required ...ComponentId) *Query {
	return w.Compile(Filter{Required: NewSignature(required...)})
}

// Tables returns every live table
func (w *World) Tables() []*Table {
	return w.store.Tables()
}

// Compact destroys every empty table except the root. It is deferred while iterating.
func (w *World) Compact() int {
	if w.Deferring() {
		w.commands.Func(func(w *World) error {
			w.store.compact()
			return nil
		})
		return 0
	}
	return w.store.compact()
}

// Validate checks that every live record points at a row holding its entity
func (w *World) Validate() error {
	return w.store.validate()
}

// queues reports whether a change to id goes through the command buffer: always while
// deferring, and for an id whose create is still queued.
func (w *World) queues(id EntityId) bool {
	return w.Deferring() || w.store.entities.isPending(id)
}

// checkEntity accepts live entities and entities whose creation is deferred.
func (w *World) checkEntity(id EntityId) error {
	if w.store.entities.isAlive(id) || w.store.entities.isPending(id) {
		return nil
	}
	return eris.Wrapf(ErrStaleEntity, "entity %s", id)
}

// detachValue copies what a queued value refers to, so later writes by the caller are not seen.
func detachValue(info ComponentInfo, value any) any {
	if info.Type == nil {
		if b, ok := value.([]byte); ok {
			return slices.Clone(b)
		}
		return value
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer && !v.IsNil() && v.Type().Elem() == info.Type {
		return v.Elem().Interface()
	}
	return value
}

func checkValue(info ComponentInfo, value any) error {
	if info.IsTag() {
		return nil
	}
	if info.Type == nil {
		if b, ok := value.([]byte); !ok || uintptr(len(b)) != info.Size {
			return eris.Wrapf(ErrTypeMismatch, "component %s expects %d bytes, got %T", info.Name, info.Size, value)
		}
		return nil
	}
	t := reflect.TypeOf(value)
	if t == info.Type || (t != nil && t.Kind() == reflect.Pointer && t.Elem() == info.Type) {
		return nil
	}
	return eris.Wrapf(ErrTypeMismatch, "component %s expects %s, got %T", info.Name, info.Type, value)
}

// apply executes one deferred op immediately.
func (w *World) apply(op DeferredOp) error {
	switch op.Kind {
	case OpCreate:
		if err := w.store.entities.activate(op.Entity); err != nil {
			return err
		}
		if err := w.store.place(op.Entity); err != nil {
			_ = w.store.entities.release(op.Entity)
			return err
		}
		return nil
	case OpDestroy:
		if w.store.entities.isPending(op.Entity) {
			return w.store.entities.release(op.Entity)
		}
		return w.destroy(op.Entity)
	case OpAdd:
		return w.add(op.Entity, op.Component)
	case OpRemove:
		return w.remove(op.Entity, op.Component)
	case OpSet:
		return w.set(op.Entity, op.Component, op.Value)
	case OpFunc:
		return op.Fn(w)
	}
	return eris.Errorf("unknown deferred op kind %d", op.Kind)
}

func (w *World) destroy(id EntityId) error {
	if w.observers.any(OnRemove) {
		t, _, err := w.store.entities.locate(id)
		if err != nil {
			return err
		}
		for _, comp := range t.signature {
			w.observers.emit(w, OnRemove, comp, id)
		}
	}
	return w.store.destroy(id)
}

func (w *World) add(id EntityId, comp ComponentId) error {
	added, err := w.store.addComponent(id, comp)
	if err != nil {
		return err
	}
	if added {
		w.observers.emit(w, OnAdd, comp, id)
	}
	return nil
}

func (w *World) remove(id EntityId, comp ComponentId) error {
	if w.Has(id, comp) && w.observers.any(OnRemove) {
		if err := w.store.reserveRemove(id, comp); err != nil {
			return err
		}
		w.observers.emit(w, OnRemove, comp, id)
	}
	_, err := w.store.removeComponent(id, comp)
	return err
}

func (w *World) set(id EntityId, comp ComponentId, value any) error {
	added, err := w.store.set(id, comp, value)
	if err != nil {
		return err
	}
	if added {
		w.observers.emit(w, OnAdd, comp, id)
	}
	w.observers.emit(w, OnSet, comp, id)
	return nil
}

func (w *World) setInPlace(id EntityId, t *Table, row int, comp ComponentId, value any) error {
	col := t.columns[t.signature.indexOf(comp)]
	if col != nil {
		if err := col.set(row, value); err != nil {
			return err
		}
	}
	w.observers.emit(w, OnSet, comp, id)
	return nil
}

// Get returns the T component of an entity.
func Get[T any](w *World, id EntityId) (*T, error) {
	comp, err := IdOf[T](w.registry)
	if err != nil {
		return nil, err
	}
	v, err := w.Get(id, comp)
	if err != nil {
		return nil, err
	}
	ptr, _ := v.(*T)
	return ptr, nil
}

// Set writes the T component of an entity, adding it if needed.
func Set[T any](w *World, id EntityId, value T) error {
	comp, err := IdOf[T](w.registry)
	if err != nil {
		return err
	}
	return w.Set(id, comp, value)
}

// Add attaches a default-constructed T component.
func Add[T any](w *World, id EntityId) error {
	comp, err := IdOf[T](w.registry)
	if err != nil {
		return err
	}
	return w.Add(id, comp)
}

// Remove detaches the T component.
func Remove[T any](w *World, id EntityId) error {
	comp, err := IdOf[T](w.registry)
	if err != nil {
		return err
	}
	return w.Remove(id, comp)
}

// Has reports whether the entity has a T component.
func Has[T any](w *World, id EntityId) bool {
	comp, err := IdOf[T](w.registry)
	if err != nil {
		return false
	}
	return w.Has(id, comp)
}
