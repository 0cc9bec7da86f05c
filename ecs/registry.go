package ecs

import (
	"math/bits"
	"reflect"
	"slices"
	"sync"
	"unsafe"

	"github.com/rotisserie/eris"
)

// ComponentId is the dense identifier handed out by a ComponentRegistry. Zero is never valid.
type ComponentId uint32

// Hooks are the optional lifecycle callbacks of a component layout.
// All pointers address a single component value inside a column.
type Hooks struct {
	Ctor func(ptr unsafe.Pointer)
	Copy func(dst, src unsafe.Pointer)
	Move func(dst, src unsafe.Pointer)
	Dtor func(ptr unsafe.Pointer)
}

// TypedHooks is the type-safe form of Hooks for Go component types.
type TypedHooks[T any] struct {
	Ctor func(v *T)
	Copy func(dst, src *T)
	Move func(dst, src *T)
	Dtor func(v *T)
}

// Erase converts the typed hooks into their pointer form.
func (h TypedHooks[T]) Erase() Hooks {
	var out Hooks
	if h.Ctor != nil {
		out.Ctor = func(ptr unsafe.Pointer) { h.Ctor((*T)(ptr)) }
	}
	if h.Copy != nil {
		out.Copy = func(dst, src unsafe.Pointer) { h.Copy((*T)(dst), (*T)(src)) }
	}
	if h.Move != nil {
		out.Move = func(dst, src unsafe.Pointer) { h.Move((*T)(dst), (*T)(src)) }
	}
	if h.Dtor != nil {
		out.Dtor = func(ptr unsafe.Pointer) { h.Dtor((*T)(ptr)) }
	}
	return out
}

// ComponentInfo describes a registered component layout. It is immutable once a table stores it.
type ComponentInfo struct {
	Id    ComponentId
	Name  string
	Type  reflect.Type // nil for layouts registered without a Go type
	Size  uintptr
	Align uintptr
	Hooks Hooks
}

// IsTag reports whether the component carries no data.
func (c ComponentInfo) IsTag() bool {
	return c.Size == 0
}

// ComponentDesc is the layout metadata supplied by an external collaborator (bindings, generated code).
type ComponentDesc struct {
	Name  string
	Size  uintptr
	Align uintptr
	Hooks Hooks
}

// ComponentOption customizes a RegisterComponent call.
type ComponentOption func(info *ComponentInfo)

// WithName overrides the registered name, which defaults to the Go type string.
func WithName(name string) ComponentOption {
	return func(info *ComponentInfo) {
		info.Name = name
	}
}

// WithHooks attaches lifecycle hooks.
func WithHooks(hooks Hooks) ComponentOption {
	return func(info *ComponentInfo) {
		info.Hooks = hooks
	}
}

type componentEntry struct {
	info    ComponentInfo
	factory func() column
	frozen  bool
}

// ComponentRegistry manages component type registration for a World.
// Each World is handed its registry explicitly, so independent worlds never share state.
// All methods are safe for concurrent use.
type ComponentRegistry struct {
	mu      sync.RWMutex
	entries []componentEntry // index is the ComponentId, 0 unused
	byType  map[reflect.Type]ComponentId
	byName  map[string]ComponentId
}

// NewComponentRegistry creates a new component registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		entries: make([]componentEntry, 1, 32),
		byType:  make(map[reflect.Type]ComponentId),
		byName:  make(map[string]ComponentId),
	}
}

// RegisterComponent registers T with the given registry and returns its ID.
// Registering the same type again returns the same ID.
func RegisterComponent[T any](r *ComponentRegistry, opts ...ComponentOption) ComponentId {
	t := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[t]; ok {
		return id
	}

	var zero T
	info := ComponentInfo{
		Name:  t.String(),
		Type:  t,
		Size:  unsafe.Sizeof(zero),
		Align: unsafe.Alignof(zero),
	}
	for _, opt := range opts {
		opt(&info)
	}
	if _, taken := r.byName[info.Name]; taken {
		panic("ecs: component name " + info.Name + " already registered")
	}

	hooks := info.Hooks
	id := r.add(info, func() column {
		if info.Size == 0 {
			return nil
		}
		return newTypedColumn[T](hooks)
	})
	r.byType[t] = id
	return id
}

// Register registers a layout described by an external collaborator. Registering the same name
// again replaces the layout and hooks until a table has been created for the component. After
// that, the same layout and hooks return the existing ID and anything else fails with
// ErrLayoutFrozen. Hooks are compared by function identity.
func (r *ComponentRegistry) Register(desc ComponentDesc) (ComponentId, error) {
	if desc.Name == "" {
		return 0, eris.Wrap(ErrInvalidLayout, "component name must not be empty")
	}
	align := desc.Align
	if align == 0 {
		align = 1
	}
	if bits.OnesCount64(uint64(align)) != 1 || align > rawWordSize {
		return 0, eris.Wrapf(ErrInvalidLayout, "component %s: alignment %d is not a power of two <= %d", desc.Name, desc.Align, rawWordSize)
	}

	info := ComponentInfo{
		Name:  desc.Name,
		Size:  desc.Size,
		Align: align,
		Hooks: desc.Hooks,
	}
	factory := func() column {
		if info.Size == 0 {
			return nil
		}
		return newRawColumn(info.Size, info.Hooks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byName[desc.Name]
	if !exists {
		return r.add(info, factory), nil
	}

	entry := &r.entries[id]
	if entry.info.Type != nil {
		return 0, eris.Wrapf(ErrInvalidLayout, "component %s is registered from a Go type", desc.Name)
	}
	if entry.frozen {
		if entry.info.Size == info.Size && entry.info.Align == info.Align && sameHooks(entry.info.Hooks, info.Hooks) {
			return id, nil
		}
		return 0, eris.Wrapf(ErrLayoutFrozen, "component %s", desc.Name)
	}
	info.Id = id
	entry.info = info
	entry.factory = factory
	return id, nil
}

func sameHooks(a, b Hooks) bool {
	return sameFunc(a.Ctor, b.Ctor) && sameFunc(a.Copy, b.Copy) &&
		sameFunc(a.Move, b.Move) && sameFunc(a.Dtor, b.Dtor)
}

func sameFunc(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsNil() || vb.IsNil() {
		return va.IsNil() == vb.IsNil()
	}
	return va.Pointer() == vb.Pointer()
}

// add must be called with mu held.
func (r *ComponentRegistry) add(info ComponentInfo, factory func() column) ComponentId {
	id := ComponentId(len(r.entries))
	info.Id = id
	r.entries = append(r.entries, componentEntry{info: info, factory: factory})
	r.byName[info.Name] = id
	return id
}

// Lookup returns the layout for id.
func (r *ComponentRegistry) Lookup(id ComponentId) (ComponentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) >= len(r.entries) {
		return ComponentInfo{}, eris.Wrapf(ErrUnknownComponent, "component id %d", id)
	}
	return r.entries[id].info, nil
}

// LookupName returns the layout registered under name.
func (r *ComponentRegistry) LookupName(name string) (ComponentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return ComponentInfo{}, eris.Wrapf(ErrUnknownComponent, "component %q", name)
	}
	return r.entries[id].info, nil
}

// LookupType returns the ID registered for a Go type.
func (r *ComponentRegistry) LookupType(t reflect.Type) (ComponentId, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownComponent, "type %s", t)
	}
	return id, nil
}

// IdOf returns the ID registered for T.
func IdOf[T any](r *ComponentRegistry) (ComponentId, error) {
	return r.LookupType(reflect.TypeFor[T]())
}

// Components returns every registered layout ordered by ID.
func (r *ComponentRegistry) Components() []ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ComponentInfo, 0, len(r.entries)-1)
	for _, entry := range r.entries[1:] {
		out = append(out, entry.info)
	}
	slices.SortFunc(out, func(a, b ComponentInfo) int { return int(a.Id) - int(b.Id) })
	return out
}

// Frozen reports whether a table has been created for id.
func (r *ComponentRegistry) Frozen(id ComponentId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) >= len(r.entries) {
		return false
	}
	return r.entries[id].frozen
}

// validate checks that every id of sig is registered.
func (r *ComponentRegistry) validate(sig Signature) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range sig {
		if id == 0 || int(id) >= len(r.entries) {
			return eris.Wrapf(ErrUnknownComponent, "component id %d", id)
		}
	}
	return nil
}

// newColumn builds an empty column for id and freezes its layout.
// Tags have no column and return nil.
func (r *ComponentRegistry) newColumn(id ComponentId) (column, ComponentInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.entries) {
		return nil, ComponentInfo{}, eris.Wrapf(ErrUnknownComponent, "component id %d", id)
	}
	entry := &r.entries[id]
	entry.frozen = true
	return entry.factory(), entry.info, nil
}
