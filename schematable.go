package normdb

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// AnyTable is the type-erased view of a *Table[E], used by the schema,
// deletion sets and debugging helpers.
type AnyTable interface {
	Name() string
	Schema() *Schema

	tablePos() int
	emptyRows() any
	hasRaw(snap *Snapshot, raw string) bool
	rowCount(snap *Snapshot) int
	dumpRows(w *strings.Builder, prefix string, snap *Snapshot)
	encodeRows(snap *Snapshot) (map[string]msgpack.RawMessage, error)
	decodeRows(raw map[string]msgpack.RawMessage) (any, error)
}

// Table is a keyed collection of entities of type E. A *Table is only a
// handle; the rows themselves live in snapshots.
type Table[E Entity[E]] struct {
	schema          *Schema
	name            string
	pos             int // index in schema.tables
	suppressContent bool
}

type tableOpt int

const (
	SuppressContentWhenLogging = tableOpt(1)
)

func AddTable[E Entity[E]](scm *Schema, name string, opts ...any) *Table[E] {
	scm.init()
	tbl := &Table[E]{
		schema: scm,
		name:   name,
		pos:    len(scm.tables),
	}
	for _, opt := range opts {
		switch opt := opt.(type) {
		case tableOpt:
			if opt == SuppressContentWhenLogging {
				tbl.suppressContent = true
			}
		default:
			panic(fmt.Errorf("invalid option %T %v", opt, opt))
		}
	}
	scm.addTable(tbl)
	return tbl
}

func (tbl *Table[E]) Name() string    { return tbl.name }
func (tbl *Table[E]) Schema() *Schema { return tbl.schema }
func (tbl *Table[E]) String() string  { return tbl.name }
func (tbl *Table[E]) tablePos() int   { return tbl.pos }
func (tbl *Table[E]) emptyRows() any  { return map[ID[E]]E(nil) }

func (tbl *Table[E]) keyString(id ID[E]) string {
	return tbl.name + "/" + id.raw
}

func (tbl *Table[E]) rows(snap *Snapshot) map[ID[E]]E {
	if snap.schema != tbl.schema {
		panic(fmt.Errorf("table %s used with a snapshot of another schema", tbl.name))
	}
	return snap.tables[tbl.pos].(map[ID[E]]E)
}

func (tbl *Table[E]) pendingIn(tx *Tx) *pendingRows[E] {
	p, _ := tx.pendingTable(tbl.pos).(*pendingRows[E])
	return p
}

// Get returns the entity with the given ID. Reading through a *Tx observes
// that transaction's pending puts and deletes.
func (tbl *Table[E]) Get(r Reader, id ID[E]) (E, bool) {
	if tx, ok := r.(*Tx); ok {
		if p := tbl.pendingIn(tx); p != nil {
			if pr, found := p.last[id]; found {
				if pr.op == OpDelete {
					var zero E
					return zero, false
				}
				return pr.row, true
			}
		}
	}
	row, found := tbl.rows(r.Snapshot())[id]
	return row, found
}

func (tbl *Table[E]) Exists(r Reader, id ID[E]) bool {
	_, found := tbl.Get(r, id)
	return found
}

func (tbl *Table[E]) view(r Reader) map[ID[E]]E {
	rows := tbl.rows(r.Snapshot())
	tx, ok := r.(*Tx)
	if !ok {
		return rows
	}
	p := tbl.pendingIn(tx)
	if p == nil {
		return rows
	}
	merged := maps.Clone(rows)
	if merged == nil {
		merged = make(map[ID[E]]E)
	}
	for _, id := range p.order {
		pr := p.last[id]
		if pr.op == OpDelete {
			delete(merged, id)
		} else {
			merged[id] = pr.row
		}
	}
	return merged
}

// IDs returns the IDs of all entities, sorted by raw ID.
func (tbl *Table[E]) IDs(r Reader) []ID[E] {
	ids := slices.Collect(maps.Keys(tbl.view(r)))
	slices.SortFunc(ids, compareIDs[E])
	return ids
}

// All returns all entities sorted by raw ID. Use a SequenceIndex when
// a caller-controlled order is needed.
func (tbl *Table[E]) All(r Reader) []E {
	rows := tbl.view(r)
	ids := slices.Collect(maps.Keys(rows))
	slices.SortFunc(ids, compareIDs[E])
	result := make([]E, 0, len(ids))
	for _, id := range ids {
		result = append(result, rows[id])
	}
	return result
}

func (tbl *Table[E]) Count(r Reader) int {
	return len(tbl.view(r))
}

// Put inserts or replaces the given entities.
func (tbl *Table[E]) Put(tx *Tx, rows ...E) {
	p := tbl.pending(tx)
	for _, row := range rows {
		id := row.EntityID()
		if id.IsZero() {
			panic(tableErrf(tbl.name, "", "", nil, "attempt to put entity with zero ID: %s", tbl.loggable(row)))
		}
		p.record(id, pendingRow[E]{OpPut, row})
	}
}

// Delete removes the entities with the given IDs. Deleting a missing entity
// is a no-op.
func (tbl *Table[E]) Delete(tx *Tx, ids ...ID[E]) {
	p := tbl.pending(tx)
	for _, id := range ids {
		if id.IsZero() {
			panic(tableErrf(tbl.name, "", "", nil, "attempt to delete zero ID"))
		}
		p.record(id, pendingRow[E]{op: OpDelete})
	}
}

func (tbl *Table[E]) DeleteEntity(tx *Tx, row E) {
	tbl.Delete(tx, row.EntityID())
}

func (tbl *Table[E]) pending(tx *Tx) *pendingRows[E] {
	tx.requireOpen()
	if p := tbl.pendingIn(tx); p != nil {
		return p
	}
	p := &pendingRows[E]{
		tbl:  tbl,
		last: make(map[ID[E]]pendingRow[E]),
	}
	tx.setPendingTable(tbl.pos, p)
	return p
}

// WasDeleted reports whether the deletion set contains the given ID.
func (tbl *Table[E]) WasDeleted(d *Deletions, id ID[E]) bool {
	return d.hasRaw(tbl.pos, id.raw)
}

// DeletedIDs returns the IDs of this table contained in the deletion set,
// sorted by raw ID.
func (tbl *Table[E]) DeletedIDs(d *Deletions) []ID[E] {
	set := d.set(tbl.pos)
	ids := make([]ID[E], 0, len(set))
	for raw := range set {
		ids = append(ids, ID[E]{raw})
	}
	slices.SortFunc(ids, compareIDs[E])
	return ids
}

func (tbl *Table[E]) hasRaw(snap *Snapshot, raw string) bool {
	_, found := tbl.rows(snap)[ID[E]{raw}]
	return found
}

func (tbl *Table[E]) rowCount(snap *Snapshot) int {
	return len(tbl.rows(snap))
}

func (tbl *Table[E]) loggable(row E) string {
	if tbl.suppressContent {
		return "<suppressed>"
	}
	return loggableVal(row)
}

func (tbl *Table[E]) dumpRows(w *strings.Builder, prefix string, snap *Snapshot) {
	for i, row := range tbl.All(snap) {
		fmt.Fprintf(w, "%s.%d = %s %s\n", prefix, i+1, row.EntityID().raw, tbl.loggable(row))
	}
}

func (tbl *Table[E]) encodeRows(snap *Snapshot) (map[string]msgpack.RawMessage, error) {
	rows := tbl.rows(snap)
	result := make(map[string]msgpack.RawMessage, len(rows))
	for id, row := range rows {
		raw, err := encodeValue(row)
		if err != nil {
			return nil, tableErrf(tbl.name, "", id.raw, err, "encoding row")
		}
		result[id.raw] = raw
	}
	return result, nil
}

func (tbl *Table[E]) decodeRows(raw map[string]msgpack.RawMessage) (any, error) {
	rows := make(map[ID[E]]E, len(raw))
	for key, data := range raw {
		var row E
		err := decodeValue(data, &row)
		if err != nil {
			return nil, tableErrf(tbl.name, "", key, err, "decoding row")
		}
		if id := row.EntityID(); id.raw != key {
			return nil, tableErrf(tbl.name, "", key, nil, "row decodes with a different ID %q", id.raw)
		}
		rows[ID[E]{key}] = row
	}
	return rows, nil
}

type pendingRow[E any] struct {
	op  Op
	row E
}

// pendingRows accumulates the puts and deletes requested for one table within
// a transaction. The last request for each ID wins; order keeps the position
// of the first request so that changes are reported in submission order.
type pendingRows[E Entity[E]] struct {
	tbl   *Table[E]
	last  map[ID[E]]pendingRow[E]
	order []ID[E]
}

func (p *pendingRows[E]) record(id ID[E], pr pendingRow[E]) {
	if _, found := p.last[id]; !found {
		p.order = append(p.order, id)
	}
	p.last[id] = pr
}

func (p *pendingRows[E]) isPut(raw string) bool {
	pr, found := p.last[ID[E]{raw}]
	return found && pr.op == OpPut
}

func (p *pendingRows[E]) collectDeletes(d *Deletions) {
	for _, id := range p.order {
		if p.last[id].op == OpDelete {
			d.addRaw(p.tbl.pos, id.raw)
		}
	}
}

// apply writes the pending requests into next, records effective deletions
// into carry and the per-entity changes into cs. It reports whether the table
// was changed.
func (p *pendingRows[E]) apply(tx *Tx, next *Snapshot, carry *Deletions, cs *ChangeSet) bool {
	tbl := p.tbl
	old := tbl.rows(next)
	var rows map[ID[E]]E
	for _, id := range p.order {
		pr := p.last[id]
		switch pr.op {
		case OpPut:
			if rows == nil {
				rows = cloneRows(old)
			}
			rows[id] = pr.row
			cs.addChange(tbl.name, OpPut, id.raw)
			if tx.verbose {
				tx.logf("db: PUT %s => %s", tbl.keyString(id), tbl.loggable(pr.row))
			}
		case OpDelete:
			if _, found := old[id]; !found {
				if tx.verbose {
					tx.logf("db: DELETE.NOOP %s", tbl.keyString(id))
				}
				continue
			}
			if rows == nil {
				rows = cloneRows(old)
			}
			delete(rows, id)
			carry.addRaw(tbl.pos, id.raw)
			cs.addChange(tbl.name, OpDelete, id.raw)
			if tx.verbose {
				tx.logf("db: DELETE %s", tbl.keyString(id))
			}
		}
	}
	if rows == nil {
		return false
	}
	next.tables[tbl.pos] = rows
	return true
}

func cloneRows[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return maps.Clone(m)
}
