package normdb

import (
	"fmt"
	"iter"
)

// IndexState is the value held by an index in a snapshot. Implementations
// must be immutable: every operation returns a new value and leaves the
// receiver untouched, so that older snapshots remain valid.
type IndexState interface {
	// Prune removes every reference to the deleted entities. It must be
	// idempotent and must accept IDs it does not hold. The returned bool
	// reports whether the state changed; when it is false, the receiver
	// should be returned as is.
	Prune(d *Deletions) (IndexState, bool)
}

// Referrer is implemented by index states that can enumerate the entity IDs
// they hold. Snapshot.Verify uses it to check referential integrity, and
// loading an image uses it to drop dangling references.
type Referrer interface {
	References() iter.Seq2[AnyTable, string]
}

// Checker is implemented by index states that have invariants of their own
// beyond referential integrity.
type Checker interface {
	Check(snap *Snapshot) error
}

// AnyIndex is the type-erased view of an *Index[S].
type AnyIndex interface {
	Name() string
	Sources() []AnyTable

	indexPos() int
	initialState() IndexState
	prunes(d *Deletions) bool
	decodeState(raw []byte) (IndexState, error)
}

// Index is a handle to a named index slot holding a state of type S.
// The built-in SequenceIndex and GroupIndex are thin wrappers over Index;
// custom index kinds can be added by implementing IndexState.
type Index[S IndexState] struct {
	schema  *Schema
	name    string
	pos     int // index in schema.indexes
	initial S
	sources []AnyTable
}

// AddIndex registers an index that starts out as initial. Sources lists the
// tables whose deletions the index cares about; when it is empty, the index
// is pruned on every deletion.
func AddIndex[S IndexState](scm *Schema, name string, initial S, sources ...AnyTable) *Index[S] {
	scm.init()
	idx := &Index[S]{
		schema:  scm,
		name:    name,
		pos:     len(scm.indexes),
		initial: initial,
		sources: sources,
	}
	scm.addIndex(idx)
	return idx
}

func (idx *Index[S]) Name() string             { return idx.name }
func (idx *Index[S]) String() string           { return idx.name }
func (idx *Index[S]) Sources() []AnyTable      { return append([]AnyTable(nil), idx.sources...) }
func (idx *Index[S]) indexPos() int            { return idx.pos }
func (idx *Index[S]) initialState() IndexState { return idx.initial }

// Get returns the index state. Reading through a *Tx returns the state as of
// the start of the transaction; index mutations are applied on commit.
func (idx *Index[S]) Get(r Reader) S {
	snap := r.Snapshot()
	if snap.schema != idx.schema {
		panic(fmt.Errorf("index %s used with a snapshot of another schema", idx.name))
	}
	return snap.indexes[idx.pos].(S)
}

// Mutate schedules f to be applied to the index state on commit, after
// automatic pruning and after all table changes. Mutations run in the order
// they were requested.
func (idx *Index[S]) Mutate(tx *Tx, f func(s S) S) {
	idx.mutate(tx, func(next *Snapshot, s S) (S, bool) {
		return f(s), true
	})
}

func (idx *Index[S]) mutate(tx *Tx, f func(next *Snapshot, s S) (S, bool)) {
	tx.requireOpen()
	if tx.base.schema != idx.schema {
		panic(fmt.Errorf("index %s used with a transaction of another schema", idx.name))
	}
	tx.indexOps = append(tx.indexOps, indexOp{
		pos: idx.pos,
		apply: func(next *Snapshot, st IndexState) (IndexState, bool) {
			return f(next, st.(S))
		},
	})
}

func (idx *Index[S]) decodeState(raw []byte) (IndexState, error) {
	s := idx.initial
	err := decodeValue(raw, &s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (idx *Index[S]) prunes(d *Deletions) bool {
	if len(idx.sources) == 0 {
		return !d.Empty()
	}
	for _, tbl := range idx.sources {
		if d.Has(tbl) {
			return true
		}
	}
	return false
}

type indexOp struct {
	pos   int
	apply func(next *Snapshot, st IndexState) (IndexState, bool)
}

// Deletions is the set of entity IDs deleted by a transaction, grouped by
// table. Index states receive it in Prune.
type Deletions struct {
	sets []map[string]struct{} // by table pos
}

func newDeletions(scm *Schema) *Deletions {
	return &Deletions{sets: make([]map[string]struct{}, len(scm.tables))}
}

func (d *Deletions) Empty() bool {
	if d == nil {
		return true
	}
	for _, set := range d.sets {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// Has reports whether any entity of the given table was deleted.
func (d *Deletions) Has(tbl AnyTable) bool {
	return len(d.set(tbl.tablePos())) > 0
}

func (d *Deletions) Len() int {
	if d == nil {
		return 0
	}
	var n int
	for _, set := range d.sets {
		n += len(set)
	}
	return n
}

func (d *Deletions) set(pos int) map[string]struct{} {
	if d == nil || pos >= len(d.sets) {
		return nil
	}
	return d.sets[pos]
}

func (d *Deletions) hasRaw(pos int, raw string) bool {
	_, found := d.set(pos)[raw]
	return found
}

func (d *Deletions) addRaw(pos int, raw string) {
	if d.sets[pos] == nil {
		d.sets[pos] = make(map[string]struct{})
	}
	d.sets[pos][raw] = struct{}{}
}
