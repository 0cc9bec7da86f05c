package ecs

import (
	"iter"
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

// View represents a query for entities with a specific combination of components.
// The type T should be a struct of pointer fields, one per component type.
// Embedded fields are always required. Named fields can be tagged `ecs:"optional"` (nil when the
// entity lacks the component) or `ecs:"exclude"` (the entity must not have it; always nil).
type View[T any] struct {
	world       *World
	comps       []ComponentId
	types       []reflect.Type
	optional    []bool
	exclude     []bool
	fieldOffset []uintptr
	// non-nil address handed out for tag fields
	tagPtr []unsafe.Pointer
	query  *Query
}

// NewView creates a view over w for the struct type T.
func NewView[T any](w *World) (*View[T], error) {
	v := &View[T]{}
	if err := v.Init(w); err != nil {
		return nil, err
	}
	return v, nil
}

// Init resolves T's fields against w's registry and compiles the view's query.
// This is called automatically by the Scheduler for View fields of struct systems.
func (v *View[T]) Init(w *World) error {
	structType := reflect.TypeFor[T]()
	if structType.Kind() != reflect.Struct {
		return eris.Errorf("view type %s must be a struct", structType)
	}

	*v = View[T]{world: w}
	var required, excluded []ComponentId
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.Type.Kind() != reflect.Ptr {
			return eris.Errorf("view %s: field %s must be a pointer", structType, field.Name)
		}
		componentType := field.Type.Elem()
		comp, err := w.registry.LookupType(componentType)
		if err != nil {
			return eris.Wrapf(err, "view %s: field %s", structType, field.Name)
		}

		isOptional, isExclude := false, false
		if !field.Anonymous {
			switch tag := field.Tag.Get("ecs"); tag {
			case "":
			case "optional":
				isOptional = true
			case "exclude":
				isExclude = true
			default:
				return eris.Errorf("view %s: invalid ecs tag value %q on field %s", structType, tag, field.Name)
			}
		}

		var tagPtr unsafe.Pointer
		if componentType.Size() == 0 {
			tagPtr = reflect.New(componentType).UnsafePointer()
		}

		v.comps = append(v.comps, comp)
		v.types = append(v.types, componentType)
		v.optional = append(v.optional, isOptional)
		v.exclude = append(v.exclude, isExclude)
		v.fieldOffset = append(v.fieldOffset, field.Offset)
		v.tagPtr = append(v.tagPtr, tagPtr)

		switch {
		case isExclude:
			excluded = append(excluded, comp)
		case !isOptional:
			required = append(required, comp)
		}
	}

	v.query = w.Compile(Filter{Required: NewSignature(required...), Excluded: NewSignature(excluded...)})
	return nil
}

// Query returns the compiled query backing the view
func (v *View[T]) Query() *Query {
	return v.query
}

// populate points every field of the struct at ptr to the entity's components in t at row.
// It returns false if a required component is missing or an excluded one is present.
func (v *View[T]) populate(ptr unsafe.Pointer, t *Table, row int) bool {
	for i, comp := range v.comps {
		fieldPtr := unsafe.Pointer(uintptr(ptr) + v.fieldOffset[i])
		has := t.Has(comp)

		switch {
		case v.exclude[i]:
			if has {
				return false
			}
			*(*unsafe.Pointer)(fieldPtr) = nil
		case !has:
			if !v.optional[i] {
				return false
			}
			*(*unsafe.Pointer)(fieldPtr) = nil
		case v.tagPtr[i] != nil:
			*(*unsafe.Pointer)(fieldPtr) = v.tagPtr[i]
		default:
			*(*unsafe.Pointer)(fieldPtr) = t.Ptr(comp, row)
		}
	}
	return true
}

// Fill populates the provided struct pointer with component data for the given entity.
// Returns false if the entity is dead or does not match the view.
func (v *View[T]) Fill(id EntityId, ptr *T) bool {
	t, row, err := v.world.store.entities.locate(id)
	if err != nil {
		return false
	}
	return v.populate(unsafe.Pointer(ptr), t, row)
}

// Get returns a populated view struct for the given entity, or nil if the entity
// does not match the view.
func (v *View[T]) Get(id EntityId) *T {
	var result T
	if !v.Fill(id, &result) {
		return nil
	}
	return &result
}

// Iter returns an iterator over every entity matching the view.
// The yielded struct's pointers alias the table columns and are valid until the next
// structural change; changes requested during the iteration are deferred.
func (v *View[T]) Iter() iter.Seq2[EntityId, T] {
	return func(yield func(EntityId, T) bool) {
		var result T
		resultPtr := unsafe.Pointer(&result)
		for r := range v.query.Iter() {
			for row := r.Start; row < r.End; row++ {
				if !v.populate(resultPtr, r.Table, row) {
					continue
				}
				if !yield(r.Table.entities[row], result) {
					return
				}
			}
		}
	}
}

// Values returns an iterator over just the view structs.
func (v *View[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, value := range v.Iter() {
			if !yield(value) {
				return
			}
		}
	}
}

// Count returns the number of matching entities
func (v *View[T]) Count() int {
	return v.query.Count()
}

// Spawn creates an entity with a copy of every non-nil component of data.
// Required fields must be non-nil. While the world is deferring, the entity becomes
// alive when the deferred changes are applied.
func (v *View[T]) Spawn(data T) (EntityId, error) {
	structPtr := unsafe.Pointer(&data)
	values := make([]any, 0, len(v.comps))
	for i := range v.comps {
		if v.exclude[i] {
			continue
		}
		fieldPtr := *(*unsafe.Pointer)(unsafe.Pointer(uintptr(structPtr) + v.fieldOffset[i]))
		if fieldPtr == nil {
			if !v.optional[i] {
				return 0, eris.Errorf("spawning %s: required component %s is nil", reflect.TypeFor[T](), v.types[i])
			}
			continue
		}
		values = append(values, reflect.NewAt(v.types[i], fieldPtr).Elem().Interface())
	}
	return v.world.Spawn(values...)
}
