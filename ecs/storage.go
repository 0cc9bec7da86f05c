package ecs

import (
	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Storage owns every table and performs structural changes immediately.
// It is not safe for concurrent structural use; the World routes changes made
// during iteration through the command buffer instead.
type Storage struct {
	registry *ComponentRegistry
	entities *entityIndex
	config   Config
	logger   zerolog.Logger

	tables      []*Table // indexed by TableId, nil once destroyed
	bySignature *intmap.Map[uint64, []*Table]
	root        *Table

	onTableCreated   func(*Table)
	onTableDestroyed func(*Table)
}

func newStorage(registry *ComponentRegistry, config Config, logger zerolog.Logger) *Storage {
	s := &Storage{
		registry:    registry,
		entities:    newEntityIndex(config.InitialCapacity),
		config:      config,
		logger:      logger,
		bySignature: intmap.New[uint64, []*Table](64),
	}
	root, err := s.table(nil)
	if err != nil {
		panic("ecs: creating root table: " + err.Error())
	}
	s.root = root
	return s
}

// Tables returns every live table ordered by ID.
func (s *Storage) Tables() []*Table {
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Root returns the table of entities without components.
func (s *Storage) Root() *Table {
	return s.root
}

// Lookup returns the table for sig if one exists.
func (s *Storage) Lookup(sig Signature) *Table {
	sig = NewSignature(sig...)
	bucket, _ := s.bySignature.Get(sig.hash())
	for _, t := range bucket {
		if t.signature.Equal(sig) {
			return t
		}
	}
	return nil
}

// table finds or lazily creates the table for a canonical signature.
func (s *Storage) table(sig Signature) (*Table, error) {
	h := sig.hash()
	bucket, _ := s.bySignature.Get(h)
	for _, t := range bucket {
		if t.signature.Equal(sig) {
			return t, nil
		}
	}

	if err := s.registry.validate(sig); err != nil {
		return nil, err
	}
	t, err := newTable(TableId(len(s.tables)), sig, s.registry)
	if err != nil {
		return nil, err
	}
	s.tables = append(s.tables, t)
	s.bySignature.Put(h, append(bucket, t))

	s.logger.Debug().
		Uint32("table_id", uint32(t.id)).
		Str("signature", sig.String()).
		Msg("table created")
	if s.onTableCreated != nil {
		s.onTableCreated(t)
	}
	return t, nil
}

// tableWith follows (or builds) the add edge from t.
func (s *Storage) tableWith(t *Table, id ComponentId) (*Table, error) {
	if next, ok := t.addEdges[id]; ok {
		return next, nil
	}
	next, err := s.table(t.signature.With(id))
	if err != nil {
		return nil, err
	}
	t.addEdges[id] = next
	next.removeEdges[id] = t
	return next, nil
}

// tableWithout follows (or builds) the remove edge from t.
func (s *Storage) tableWithout(t *Table, id ComponentId) (*Table, error) {
	if next, ok := t.removeEdges[id]; ok {
		return next, nil
	}
	next, err := s.table(t.signature.Without(id))
	if err != nil {
		return nil, err
	}
	t.removeEdges[id] = next
	next.addEdges[id] = t
	return next, nil
}

// create makes a new entity in the root table.
func (s *Storage) create() (EntityId, error) {
	id := s.entities.create()
	if err := s.place(id); err != nil {
		_ = s.entities.release(id)
		return 0, err
	}
	return id, nil
}

// spawn creates an entity directly in the table for sig. Components with a value in values
// are set from it, the others constructed.
func (s *Storage) spawn(sig Signature, values map[ComponentId]any) (EntityId, error) {
	t, err := s.table(sig)
	if err != nil {
		return 0, err
	}
	id := s.entities.create()
	row, err := t.appendRow(id, s.config.MaxTableRows)
	if err != nil {
		_ = s.entities.release(id)
		return 0, err
	}
	s.entities.setLocation(id, t, row)

	for idx, cid := range t.signature {
		col := t.columns[idx]
		if col == nil {
			continue
		}
		if v, ok := values[cid]; ok {
			if err := col.set(row, v); err != nil {
				_ = s.destroy(id)
				return 0, err
			}
			continue
		}
		if ctor := col.lifecycle().Ctor; ctor != nil && !s.config.SkipConstructors {
			ctor(col.ptr(row))
		}
	}
	return id, nil
}

// place inserts a live entity with no location into the root table.
func (s *Storage) place(id EntityId) error {
	row, err := s.root.appendRow(id, s.config.MaxTableRows)
	if err != nil {
		return err
	}
	s.entities.setLocation(id, s.root, row)
	return nil
}

// destroy destructs every component of id and frees its index.
func (s *Storage) destroy(id EntityId) error {
	t, row, err := s.entities.locate(id)
	if err != nil {
		return err
	}
	t.destruct(row)
	s.removeRow(t, row)
	return s.entities.release(id)
}

// removeRow swap-removes row and fixes the record of the entity moved into it.
func (s *Storage) removeRow(t *Table, row int) {
	if moved, ok := t.removeRow(row); ok {
		s.entities.setRow(moved, row)
	}
}

// addComponent moves id to the table with comp added. It is a no-op if id already has comp.
func (s *Storage) addComponent(id EntityId, comp ComponentId) (bool, error) {
	src, row, err := s.entities.locate(id)
	if err != nil {
		return false, err
	}
	if src.Has(comp) {
		return false, nil
	}
	dst, err := s.tableWith(src, comp)
	if err != nil {
		return false, err
	}
	if err := s.move(id, src, row, dst); err != nil {
		return false, err
	}
	return true, nil
}

// removeComponent moves id to the table with comp removed. It is a no-op if id lacks comp.
func (s *Storage) removeComponent(id EntityId, comp ComponentId) (bool, error) {
	src, row, err := s.entities.locate(id)
	if err != nil {
		return false, err
	}
	if !src.Has(comp) {
		if err := s.registry.validate(Signature{comp}); err != nil {
			return false, err
		}
		return false, nil
	}
	dst, err := s.tableWithout(src, comp)
	if err != nil {
		return false, err
	}
	if err := s.move(id, src, row, dst); err != nil {
		return false, err
	}
	return true, nil
}

// reserveRemove grows the table id moves to when comp is removed, so the removal cannot fail
// for lack of room.
func (s *Storage) reserveRemove(id EntityId, comp ComponentId) error {
	src, _, err := s.entities.locate(id)
	if err != nil {
		return err
	}
	if !src.Has(comp) {
		return nil
	}
	dst, err := s.tableWithout(src, comp)
	if err != nil {
		return err
	}
	return dst.reserve(dst.Len()+1, s.config.MaxTableRows)
}

// move relocates the entity at src[row] into dst. Shared components are moved,
// components only in dst are constructed and components only in src are destructed.
func (s *Storage) move(id EntityId, src *Table, row int, dst *Table) error {
	newRow, err := dst.appendRow(id, s.config.MaxTableRows)
	if err != nil {
		return err
	}

	for di, cid := range dst.signature {
		col := dst.columns[di]
		if col == nil {
			continue
		}
		if si := src.signature.indexOf(cid); si >= 0 {
			col.moveInto(newRow, src.columns[si].ptr(row))
			continue
		}
		if ctor := col.lifecycle().Ctor; ctor != nil && !s.config.SkipConstructors {
			ctor(col.ptr(newRow))
		}
	}
	for si, cid := range src.signature {
		col := src.columns[si]
		if col == nil || dst.signature.Has(cid) {
			continue
		}
		if dtor := col.lifecycle().Dtor; dtor != nil {
			dtor(col.ptr(row))
		}
	}

	s.removeRow(src, row)
	s.entities.setLocation(id, dst, newRow)
	return nil
}

// set writes value into comp of id, adding comp first if needed.
func (s *Storage) set(id EntityId, comp ComponentId, value any) (added bool, err error) {
	t, row, err := s.entities.locate(id)
	if err != nil {
		return false, err
	}
	if !t.Has(comp) {
		if added, err = s.addComponent(id, comp); err != nil {
			return false, err
		}
		t, row, _ = s.entities.locate(id)
	}
	col := t.columns[t.signature.indexOf(comp)]
	if col == nil {
		return added, nil
	}
	return added, col.set(row, value)
}

func (s *Storage) get(id EntityId, comp ComponentId) (any, error) {
	t, row, err := s.entities.locate(id)
	if err != nil {
		return nil, err
	}
	if !t.Has(comp) {
		if err := s.registry.validate(Signature{comp}); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrComponentNotOnEntity, "entity %s component %d", id, comp)
	}
	return t.Value(comp, row), nil
}

// compact destroys every empty table except the root and returns how many were removed.
func (s *Storage) compact() int {
	removed := 0
	for idx, t := range s.tables {
		if t == nil || t == s.root || t.Len() > 0 {
			continue
		}
		s.destroyTable(t)
		s.tables[idx] = nil
		removed++
	}
	if removed > 0 {
		s.logger.Debug().Int("tables", removed).Msg("tables compacted")
	}
	return removed
}

func (s *Storage) destroyTable(t *Table) {
	h := t.signature.hash()
	bucket, _ := s.bySignature.Get(h)
	kept := bucket[:0]
	for _, other := range bucket {
		if other != t {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		s.bySignature.Del(h)
	} else {
		s.bySignature.Put(h, kept)
	}

	for cid, next := range t.addEdges {
		delete(next.removeEdges, cid)
	}
	for cid, prev := range t.removeEdges {
		delete(prev.addEdges, cid)
	}
	t.addEdges = nil
	t.removeEdges = nil
	t.destroyed = true

	if s.onTableDestroyed != nil {
		s.onTableDestroyed(t)
	}
}

// validate checks that every live record points at a live table row holding its entity.
func (s *Storage) validate() error {
	var failure error
	s.entities.each(func(id EntityId, t *Table, row int) bool {
		switch {
		case t == nil || t.destroyed:
			failure = eris.Errorf("entity %s points at a destroyed table", id)
		case row < 0 || row >= t.Len():
			failure = eris.Errorf("entity %s row %d out of range for table %d", id, row, t.id)
		case t.entities[row] != id:
			failure = eris.Errorf("entity %s row %d of table %d holds %s", id, row, t.id, t.entities[row])
		}
		return failure == nil
	})
	if failure != nil {
		return failure
	}
	for _, t := range s.tables {
		if t == nil {
			continue
		}
		if err := t.checkColumns(); err != nil {
			return err
		}
	}
	return nil
}
