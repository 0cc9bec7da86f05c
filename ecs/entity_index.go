package ecs

import (
	"container/heap"
	"sync"

	"github.com/rotisserie/eris"
)

type recordState uint8

const (
	recordFree recordState = iota
	recordPending
	recordAlive
)

// entityRecord maps a dense index to its storage location.
type entityRecord struct {
	generation uint32
	state      recordState
	table      *Table
	row        int
}

// freeIndices is a min-heap so creation recycles the lowest free index first.
type freeIndices []uint32

func (f freeIndices) Len() int           { return len(f) }
func (f freeIndices) Less(i, j int) bool { return f[i] < f[j] }
func (f freeIndices) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *freeIndices) Push(x any)        { *f = append(*f, x.(uint32)) }
func (f *freeIndices) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

// entityIndex owns identifier allocation and the EntityId -> (table, row) records.
// Index 0 is never handed out, so the zero EntityId is always dead.
type entityIndex struct {
	mu      sync.RWMutex
	records []entityRecord
	free    freeIndices
	alive   int
}

func newEntityIndex(capacity int) *entityIndex {
	records := make([]entityRecord, 1, capacity+1)
	return &entityIndex{records: records}
}

// allocate must be called with mu held.
func (x *entityIndex) allocate(state recordState) EntityId {
	var index uint32
	if len(x.free) > 0 {
		index = heap.Pop(&x.free).(uint32)
	} else {
		index = uint32(len(x.records))
		x.records = append(x.records, entityRecord{})
	}

	rec := &x.records[index]
	rec.state = state
	rec.table = nil
	rec.row = -1
	return NewEntityId(index, rec.generation)
}

// create allocates a live id. The caller places it into a table with setLocation.
func (x *entityIndex) create() EntityId {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.alive++
	return x.allocate(recordAlive)
}

// reserve allocates an id whose placement is pending until a deferred create runs.
func (x *entityIndex) reserve() EntityId {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.allocate(recordPending)
}

// activate turns a pending id into a live one.
func (x *entityIndex) activate(id EntityId) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.lookup(id)
	if !ok || rec.state != recordPending {
		return eris.Wrapf(ErrStaleEntity, "entity %s is not pending", id)
	}
	rec.state = recordAlive
	x.alive++
	return nil
}

// lookup must be called with mu held.
func (x *entityIndex) lookup(id EntityId) (*entityRecord, bool) {
	index := id.Index()
	if index == 0 || int(index) >= len(x.records) {
		return nil, false
	}
	rec := &x.records[index]
	if rec.generation != id.Generation() {
		return nil, false
	}
	return rec, true
}

// release frees a live or pending id and bumps its generation.
func (x *entityIndex) release(id EntityId) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.lookup(id)
	if !ok || rec.state == recordFree {
		return eris.Wrapf(ErrStaleEntity, "entity %s", id)
	}
	if rec.state == recordAlive {
		x.alive--
	}
	rec.generation++
	rec.state = recordFree
	rec.table = nil
	rec.row = -1
	heap.Push(&x.free, id.Index())
	return nil
}

func (x *entityIndex) isAlive(id EntityId) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.lookup(id)
	return ok && rec.state == recordAlive
}

func (x *entityIndex) isPending(id EntityId) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.lookup(id)
	return ok && rec.state == recordPending
}

func (x *entityIndex) locate(id EntityId) (*Table, int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.lookup(id)
	if !ok || rec.state != recordAlive {
		return nil, -1, eris.Wrapf(ErrStaleEntity, "entity %s", id)
	}
	return rec.table, rec.row, nil
}

func (x *entityIndex) setLocation(id EntityId, table *Table, row int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.lookup(id)
	if !ok || rec.state != recordAlive {
		panic("ecs: setting location of entity " + id.String() + " that is not alive")
	}
	rec.table = table
	rec.row = row
}

// setRow fixes the row of an entity relocated by swap-removal.
func (x *entityIndex) setRow(id EntityId, row int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.lookup(id)
	if !ok || rec.state != recordAlive {
		panic("ecs: swap-removal moved entity " + id.String() + " with no live record")
	}
	rec.row = row
}

func (x *entityIndex) count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.alive
}

// each calls fn for every live entity in index order.
func (x *entityIndex) each(fn func(id EntityId, table *Table, row int) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for i := 1; i < len(x.records); i++ {
		rec := &x.records[i]
		if rec.state != recordAlive {
			continue
		}
		if !fn(NewEntityId(uint32(i), rec.generation), rec.table, rec.row) {
			return
		}
	}
}
