package ecs

import (
	"iter"
	"slices"
	"sync"

	"github.com/kamstrup/intmap"
)

// Filter selects tables whose signature contains every Required component and none of the
// Excluded ones.
type Filter struct {
	Required Signature
	Excluded Signature
}

// Matches reports whether a table with sig satisfies the filter
func (f Filter) Matches(sig Signature) bool {
	return sig.Contains(f.Required) && sig.Disjoint(f.Excluded)
}

func (f Filter) canonical() Filter {
	return Filter{
		Required: NewSignature(f.Required...),
		Excluded: NewSignature(f.Excluded...),
	}
}

func (f Filter) key() string {
	return f.Required.String() + "!" + f.Excluded.String()
}

// TableRange is one contiguous run of rows produced by a query iteration.
type TableRange struct {
	Table *Table
	Start int
	End   int
}

// Len returns the number of rows in the range
func (r TableRange) Len() int {
	return r.End - r.Start
}

// Entities returns the entity IDs of the range
func (r TableRange) Entities() []EntityId {
	return r.Table.entities[r.Start:r.End]
}

// Query is a compiled filter whose list of matching tables is kept current
// as tables are created and destroyed.
type Query struct {
	filter Filter
	engine *queryEngine
	tables []*Table
}

// Filter returns the canonical filter the query was compiled from
func (q *Query) Filter() Filter {
	return q.filter
}

// Tables returns a snapshot of the matching tables, including empty ones.
func (q *Query) Tables() []*Table {
	q.engine.mu.RLock()
	defer q.engine.mu.RUnlock()
	return slices.Clone(q.tables)
}

// Iter returns a restartable sequence over the non-empty matching tables.
// Each call snapshots the table list. While the sequence is being consumed the world counts
// an active iteration, so structural changes are deferred until it completes.
func (q *Query) Iter() iter.Seq[TableRange] {
	return func(yield func(TableRange) bool) {
		tables := q.Tables()
		world := q.engine.world

		world.beginIteration()
		defer world.endIteration()

		for _, t := range tables {
			n := t.Len()
			if n == 0 {
				continue
			}
			if !yield(TableRange{Table: t, Start: 0, End: n}) {
				return
			}
		}
	}
}

// Entities returns a sequence over every matching entity.
func (q *Query) Entities() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for r := range q.Iter() {
			for _, e := range r.Entities() {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Count returns the number of matching entities.
func (q *Query) Count() int {
	count := 0
	for _, t := range q.Tables() {
		count += t.Len()
	}
	return count
}

// queryEngine deduplicates compiled queries and keeps their caches current.
type queryEngine struct {
	mu      sync.RWMutex
	world   *World
	queries []*Query
	byKey   map[string]*Query
	byTable *intmap.Map[TableId, []*Query] // reverse index of cached tables
}

func newQueryEngine(world *World) *queryEngine {
	return &queryEngine{
		world:   world,
		byKey:   make(map[string]*Query),
		byTable: intmap.New[TableId, []*Query](64),
	}
}

// compile returns the query for filter, scanning existing tables only the first time.
func (e *queryEngine) compile(filter Filter, tables []*Table) *Query {
	filter = filter.canonical()
	key := filter.key()

	e.mu.Lock()
	defer e.mu.Unlock()

	if q, ok := e.byKey[key]; ok {
		return q
	}

	q := &Query{filter: filter, engine: e}
	for _, t := range tables {
		e.consider(q, t)
	}
	e.queries = append(e.queries, q)
	e.byKey[key] = q
	return q
}

// consider must be called with mu held.
func (e *queryEngine) consider(q *Query, t *Table) {
	if !q.filter.Matches(t.signature) {
		return
	}
	q.tables = append(q.tables, t)
	cached, _ := e.byTable.Get(t.id)
	e.byTable.Put(t.id, append(cached, q))
}

func (e *queryEngine) tableCreated(t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.queries {
		e.consider(q, t)
	}
}

func (e *queryEngine) tableDestroyed(t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cached, ok := e.byTable.Get(t.id)
	if !ok {
		return
	}
	for _, q := range cached {
		q.tables = slices.DeleteFunc(q.tables, func(other *Table) bool { return other == t })
	}
	e.byTable.Del(t.id)
}

func (e *queryEngine) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}
