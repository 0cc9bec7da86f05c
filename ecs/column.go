package ecs

import (
	"unsafe"

	"github.com/rotisserie/eris"
)

// column is a type-erased packed array holding one component for every row of a table.
type column interface {
	Len() int
	// prepare allocates backing storage for capacity rows without touching the column.
	// The returned commit installs it. Nothing changes if prepare fails.
	prepare(capacity int) (commit func(), err error)
	// extend appends one zeroed row. Capacity must have been prepared.
	extend()
	ptr(row int) unsafe.Pointer
	// moveInto relocates the value at src into row with the Move hook, else a raw copy.
	// The source is left for the caller to discard without destructing it.
	moveInto(row int, src unsafe.Pointer)
	// swapRemove moves the last row into row and shrinks the column. The value at row is not destructed.
	swapRemove(row int)
	value(row int) any
	set(row int, value any) error
	lifecycle() Hooks
}

// allocate converts a failed make into ErrAllocationFailure.
func allocate[T any](length, capacity int) (s []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = eris.Wrapf(ErrAllocationFailure, "allocating %d rows: %v", capacity, r)
		}
	}()
	return make([]T, length, capacity), nil
}

// growCapacity doubles like append, starting at a small block.
func growCapacity(current, needed int) int {
	next := current * 2
	if next < 16 {
		next = 16
	}
	for next < needed {
		next *= 2
	}
	return next
}

// typedColumn stores components of a Go type T contiguously.
type typedColumn[T any] struct {
	data  []T
	hooks Hooks
}

func newTypedColumn[T any](hooks Hooks) *typedColumn[T] {
	return &typedColumn[T]{hooks: hooks}
}

func (c *typedColumn[T]) Len() int { return len(c.data) }

func (c *typedColumn[T]) lifecycle() Hooks { return c.hooks }

func (c *typedColumn[T]) prepare(capacity int) (func(), error) {
	if capacity <= cap(c.data) {
		return func() {}, nil
	}
	next, err := allocate[T](len(c.data), capacity)
	if err != nil {
		return nil, err
	}
	return func() {
		copy(next, c.data)
		c.data = next
	}, nil
}

func (c *typedColumn[T]) extend() {
	c.data = c.data[:len(c.data)+1]
}

func (c *typedColumn[T]) ptr(row int) unsafe.Pointer {
	return unsafe.Pointer(&c.data[row])
}

func (c *typedColumn[T]) moveInto(row int, src unsafe.Pointer) {
	dst := unsafe.Pointer(&c.data[row])
	switch {
	case c.hooks.Move != nil:
		c.hooks.Move(dst, src)
	default:
		c.data[row] = *(*T)(src)
	}
}

func (c *typedColumn[T]) swapRemove(row int) {
	last := len(c.data) - 1
	if row != last {
		c.moveInto(row, unsafe.Pointer(&c.data[last]))
	}
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
}

// value returns a pointer to the component at row.
func (c *typedColumn[T]) value(row int) any {
	return &c.data[row]
}

func (c *typedColumn[T]) set(row int, value any) error {
	var src *T
	if ptr, ok := value.(*T); ok {
		src = ptr
	} else if val, ok := value.(T); ok {
		src = &val
	} else {
		var zero T
		return eris.Wrapf(ErrTypeMismatch, "expected %T, got %T", zero, value)
	}

	if c.hooks.Copy != nil {
		c.hooks.Copy(unsafe.Pointer(&c.data[row]), unsafe.Pointer(src))
		return nil
	}
	c.data[row] = *src
	return nil
}

const rawWordSize = 8

// rawColumn stores layouts registered without a Go type as word-aligned rows.
// Raw layouts must not contain Go pointers: the words are invisible to the garbage collector.
type rawColumn struct {
	words  []uint64
	stride int // words per row
	size   uintptr
	rows   int
	hooks  Hooks
}

func newRawColumn(size uintptr, hooks Hooks) *rawColumn {
	return &rawColumn{
		stride: int((size + rawWordSize - 1) / rawWordSize),
		size:   size,
		hooks:  hooks,
	}
}

func (c *rawColumn) Len() int { return c.rows }

func (c *rawColumn) lifecycle() Hooks { return c.hooks }

func (c *rawColumn) prepare(capacity int) (func(), error) {
	if capacity*c.stride <= cap(c.words) {
		return func() {}, nil
	}
	next, err := allocate[uint64](len(c.words), capacity*c.stride)
	if err != nil {
		return nil, err
	}
	return func() {
		copy(next, c.words)
		c.words = next
	}, nil
}

func (c *rawColumn) extend() {
	c.words = c.words[:len(c.words)+c.stride]
	c.rows++
}

func (c *rawColumn) ptr(row int) unsafe.Pointer {
	return unsafe.Pointer(&c.words[row*c.stride])
}

func (c *rawColumn) bytes(row int) []byte {
	return unsafe.Slice((*byte)(c.ptr(row)), c.size)
}

func (c *rawColumn) moveInto(row int, src unsafe.Pointer) {
	dst := c.ptr(row)
	switch {
	case c.hooks.Move != nil:
		c.hooks.Move(dst, src)
	default:
		copy(unsafe.Slice((*byte)(dst), c.size), unsafe.Slice((*byte)(src), c.size))
	}
}

func (c *rawColumn) swapRemove(row int) {
	last := c.rows - 1
	if row != last {
		c.moveInto(row, c.ptr(last))
	}
	clear(c.words[last*c.stride:])
	c.words = c.words[:last*c.stride]
	c.rows--
}

// value returns the bytes of the component at row. The slice aliases the column.
func (c *rawColumn) value(row int) any {
	return c.bytes(row)
}

func (c *rawColumn) set(row int, value any) error {
	src, ok := value.([]byte)
	if !ok || uintptr(len(src)) != c.size {
		return eris.Wrapf(ErrTypeMismatch, "expected %d bytes, got %T", c.size, value)
	}
	if c.hooks.Copy != nil {
		c.hooks.Copy(c.ptr(row), unsafe.Pointer(&src[0]))
		return nil
	}
	copy(c.bytes(row), src)
	return nil
}
