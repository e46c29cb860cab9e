package normdb

import "slices"

// Reader is anything tables and indexes can be read through: a *Snapshot,
// a *DB (its current snapshot) or a *Tx.
type Reader interface {
	Snapshot() *Snapshot
}

// Snapshot is one immutable value of all tables and indexes of a schema.
// Snapshots are safe for concurrent use and stay valid after newer
// snapshots have been committed.
type Snapshot struct {
	schema   *Schema
	revision uint64
	tables   []any        // by table pos, map[ID[E]]E
	indexes  []IndexState // by index pos

	// deletions applied by the transaction that produced this snapshot;
	// the next transaction prunes them again.
	carried *Deletions
}

// Snapshot implements Reader.
func (snap *Snapshot) Snapshot() *Snapshot { return snap }

func (snap *Snapshot) Schema() *Schema  { return snap.schema }
func (snap *Snapshot) Revision() uint64 { return snap.revision }

func (snap *Snapshot) derive() *Snapshot {
	return &Snapshot{
		schema:   snap.schema,
		revision: snap.revision + 1,
		tables:   slices.Clone(snap.tables),
		indexes:  slices.Clone(snap.indexes),
	}
}

// Verify checks that every ID held by an index exists in its table, and runs
// the extra checks of index states implementing Checker.
func (snap *Snapshot) Verify() error {
	for i, idx := range snap.schema.indexes {
		st := snap.indexes[i]
		if ref, ok := st.(Referrer); ok {
			for tbl, raw := range ref.References() {
				if !tbl.hasRaw(snap, raw) {
					return &IntegrityError{Index: idx.Name(), Table: tbl.Name(), ID: raw}
				}
			}
		}
		if chk, ok := st.(Checker); ok {
			if err := chk.Check(snap); err != nil {
				return &IntegrityError{Index: idx.Name(), Err: err}
			}
		}
	}
	return nil
}

// sweep prunes every reference to an entity that does not exist. It is used
// when loading images, which may have been produced by other code.
func (snap *Snapshot) sweep() []string {
	var swept []string
	for i, idx := range snap.schema.indexes {
		ref, ok := snap.indexes[i].(Referrer)
		if !ok {
			continue
		}
		missing := newDeletions(snap.schema)
		for tbl, raw := range ref.References() {
			if !tbl.hasRaw(snap, raw) {
				missing.addRaw(tbl.tablePos(), raw)
			}
		}
		if missing.Empty() {
			continue
		}
		if st, changed := snap.indexes[i].Prune(missing); changed {
			snap.indexes[i] = st
			swept = append(swept, idx.Name())
		}
	}
	return swept
}
