package ecs

import (
	"unsafe"

	"github.com/rotisserie/eris"
)

// TableId identifies a table within a World. IDs are never reused.
type TableId uint32

// Table (archetype) stores every entity that has exactly one signature.
// It owns one packed column per data component, in signature order, plus the entity column.
// All columns always have the same length and row i of every column belongs to entities[i].
type Table struct {
	id        TableId
	signature Signature
	infos     []ComponentInfo
	columns   []column // nil entries for tags
	entities  []EntityId
	destroyed bool

	// Transition edges to the table reached by adding or removing one component.
	addEdges    map[ComponentId]*Table
	removeEdges map[ComponentId]*Table
}

func newTable(id TableId, signature Signature, registry *ComponentRegistry) (*Table, error) {
	t := &Table{
		id:          id,
		signature:   signature,
		infos:       make([]ComponentInfo, len(signature)),
		columns:     make([]column, len(signature)),
		addEdges:    make(map[ComponentId]*Table),
		removeEdges: make(map[ComponentId]*Table),
	}
	for idx, cid := range signature {
		col, info, err := registry.newColumn(cid)
		if err != nil {
			return nil, err
		}
		t.columns[idx] = col
		t.infos[idx] = info
	}
	return t, nil
}

// Id returns the table's identifier
func (t *Table) Id() TableId {
	return t.id
}

// Signature returns the table's canonical component set. Callers must not modify it.
func (t *Table) Signature() Signature {
	return t.signature
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.entities)
}

// Entities returns the entity column. Callers must not modify it.
func (t *Table) Entities() []EntityId {
	return t.entities
}

// Has checks if this table stores the given component
func (t *Table) Has(id ComponentId) bool {
	return t.signature.Has(id)
}

// Destroyed reports whether the table was removed by compaction
func (t *Table) Destroyed() bool {
	return t.destroyed
}

// Ptr returns the address of component id at row, or nil for tags and absent components
func (t *Table) Ptr(id ComponentId, row int) unsafe.Pointer {
	idx := t.signature.indexOf(id)
	if idx < 0 || t.columns[idx] == nil {
		return nil
	}
	return t.columns[idx].ptr(row)
}

// Value returns the component at row: a *T for Go types, a []byte view for raw layouts
// and nil for tags or absent components
func (t *Table) Value(id ComponentId, row int) any {
	idx := t.signature.indexOf(id)
	if idx < 0 || t.columns[idx] == nil {
		return nil
	}
	return t.columns[idx].value(row)
}

// Column returns the packed values of component id in t, or nil if t does not store
// the component as a T.
func Column[T any](t *Table, id ComponentId) []T {
	idx := t.signature.indexOf(id)
	if idx < 0 {
		return nil
	}
	col, ok := t.columns[idx].(*typedColumn[T])
	if !ok {
		return nil
	}
	return col.data
}

// RawColumn returns the bytes of row for a raw layout, or nil
func (t *Table) RawColumn(id ComponentId, row int) []byte {
	idx := t.signature.indexOf(id)
	if idx < 0 {
		return nil
	}
	col, ok := t.columns[idx].(*rawColumn)
	if !ok {
		return nil
	}
	return col.bytes(row)
}

// reserve grows every column to hold n rows, all or nothing.
func (t *Table) reserve(n int, limit int) error {
	if limit > 0 && n > limit {
		return eris.Wrapf(ErrAllocationFailure, "table %d: %d rows exceeds the limit of %d", t.id, n, limit)
	}
	if n <= cap(t.entities) {
		return nil
	}

	capacity := growCapacity(cap(t.entities), n)
	if limit > 0 && capacity > limit {
		capacity = limit
	}

	entities, err := allocate[EntityId](len(t.entities), capacity)
	if err != nil {
		return eris.Wrapf(err, "table %d", t.id)
	}
	commits := make([]func(), 0, len(t.columns))
	for _, col := range t.columns {
		if col == nil {
			continue
		}
		commit, err := col.prepare(capacity)
		if err != nil {
			return eris.Wrapf(err, "table %d", t.id)
		}
		commits = append(commits, commit)
	}

	copy(entities, t.entities)
	t.entities = entities
	for _, commit := range commits {
		commit()
	}
	return nil
}

// appendRow adds a zeroed row for e and returns its index.
func (t *Table) appendRow(e EntityId, limit int) (int, error) {
	if err := t.reserve(len(t.entities)+1, limit); err != nil {
		return -1, err
	}
	row := len(t.entities)
	t.entities = append(t.entities, e)
	for _, col := range t.columns {
		if col != nil {
			col.extend()
		}
	}
	return row, nil
}

// destruct runs the Dtor hook of every column at row.
func (t *Table) destruct(row int) {
	for _, col := range t.columns {
		if col == nil {
			continue
		}
		if dtor := col.lifecycle().Dtor; dtor != nil {
			dtor(col.ptr(row))
		}
	}
}

// removeRow swap-removes row and returns the entity that now occupies it, if any.
func (t *Table) removeRow(row int) (EntityId, bool) {
	last := len(t.entities) - 1
	for _, col := range t.columns {
		if col != nil {
			col.swapRemove(row)
		}
	}

	var moved EntityId
	if row != last {
		moved = t.entities[last]
		t.entities[row] = moved
	}
	t.entities[last] = 0
	t.entities = t.entities[:last]
	return moved, row != last
}

// checkColumns reports a column whose length drifted from the entity column.
func (t *Table) checkColumns() error {
	for idx, col := range t.columns {
		if col != nil && col.Len() != len(t.entities) {
			return eris.Errorf("table %d column %d has %d rows, entity column has %d",
				t.id, t.signature[idx], col.Len(), len(t.entities))
		}
	}
	return nil
}
