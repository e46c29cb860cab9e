package normdb

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Tx is a batch update. It collects table puts and deletes and index
// mutations; nothing is visible to other readers until Commit, which applies
// everything at once and publishes a new snapshot.
//
// Commit runs these steps in order:
//
//  1. Collect the IDs deleted by this transaction, plus the IDs deleted by
//     the previous one that this transaction does not put back.
//  2. Prune every index against that deletion set, including indexes this
//     transaction never mentioned.
//  3. Apply the table puts and deletes.
//  4. Apply the index mutations in the order they were requested.
//
// A Tx is single-use: any call after Commit or Rollback panics with ErrTxClosed.
type Tx struct {
	db       *DB
	base     *Snapshot
	pending  []pendingTable // by table pos
	indexOps []indexOp
	closed   bool

	verbose bool
	logf    func(format string, args ...any)

	startTime time.Time
	stack     string
}

type pendingTable interface {
	isPut(raw string) bool
	collectDeletes(d *Deletions)
	apply(tx *Tx, next *Snapshot, carry *Deletions, cs *ChangeSet) bool
}

func (db *DB) newTx(base *Snapshot) *Tx {
	tx := &Tx{
		db:      db,
		base:    base,
		pending: make([]pendingTable, len(base.schema.tables)),
		verbose: db.verbose,
		logf:    db.logf,
	}
	if trackTxns {
		tx.startTime = time.Now()
		tx.stack = string(debug.Stack())
	}
	return tx
}

// Snapshot implements Reader. It returns the snapshot the transaction started
// from; table reads through the Tx itself also see its pending changes.
func (tx *Tx) Snapshot() *Snapshot {
	tx.requireOpen()
	return tx.base
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.base.schema
}

func (tx *Tx) IsClosed() bool {
	return tx.closed
}

func (tx *Tx) requireOpen() {
	if tx.closed {
		panic(ErrTxClosed)
	}
}

func (tx *Tx) pendingTable(pos int) pendingTable {
	tx.requireOpen()
	return tx.pending[pos]
}

func (tx *Tx) setPendingTable(pos int, p pendingTable) {
	tx.pending[pos] = p
}

// Commit applies the transaction, publishes the resulting snapshot and
// returns the change set. Calling Commit twice panics.
func (tx *Tx) Commit() *ChangeSet {
	tx.requireOpen()
	tx.closed = true
	cs := tx.db.commit(tx)
	if tx.db.onCommit != nil {
		tx.db.onCommit(cs)
	}
	return cs
}

// Rollback discards the transaction. It is a no-op after Commit, so it is
// safe to defer.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.db.endWrite(tx)
}

// apply computes the next snapshot. It does not modify tx.base or anything
// reachable from it.
func (tx *Tx) apply() (*Snapshot, *ChangeSet) {
	base := tx.base
	scm := base.schema

	deleted := newDeletions(scm)
	var hasWork bool
	for _, p := range tx.pending {
		if p != nil {
			p.collectDeletes(deleted)
			hasWork = true
		}
	}
	if carried := base.carried; carried != nil {
		for pos, set := range carried.sets {
			p := tx.pending[pos]
			for raw := range set {
				if p != nil && p.isPut(raw) {
					continue
				}
				deleted.addRaw(pos, raw)
			}
		}
		hasWork = true
	}
	if !hasWork && len(tx.indexOps) == 0 {
		if tx.verbose {
			tx.logf("db: COMMIT.NOOP r=%d", base.revision)
		}
		return base, &ChangeSet{Revision: base.revision}
	}

	next := base.derive()
	cs := &ChangeSet{Revision: next.revision}
	touched := make([]bool, len(scm.indexes))

	if !deleted.Empty() {
		for i, idx := range scm.indexes {
			if !idx.prunes(deleted) {
				continue
			}
			if st, changed := next.indexes[i].Prune(deleted); changed {
				next.indexes[i] = st
				touched[i] = true
				if tx.verbose {
					tx.logf("db: PRUNE %s", idx.Name())
				}
			}
		}
	}

	carry := newDeletions(scm)
	for pos, p := range tx.pending {
		if p != nil && p.apply(tx, next, carry, cs) {
			cs.Tables = append(cs.Tables, scm.tables[pos].Name())
		}
	}
	if !carry.Empty() {
		next.carried = carry
	}

	for _, op := range tx.indexOps {
		if st, changed := op.apply(next, next.indexes[op.pos]); changed {
			next.indexes[op.pos] = st
			touched[op.pos] = true
		}
	}
	for i, t := range touched {
		if t {
			cs.Indexes = append(cs.Indexes, scm.indexes[i].Name())
		}
	}
	if cs.IsEmpty() && next.carried == nil && base.carried == nil {
		if tx.verbose {
			tx.logf("db: COMMIT.NOOP r=%d", base.revision)
		}
		return base, &ChangeSet{Revision: base.revision}
	}

	if tx.verbose {
		tx.logf("db: COMMIT r=%d tables=%v indexes=%v deleted=%d", next.revision, cs.Tables, cs.Indexes, deleted.Len())
	}
	return next, cs
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCommit(tx *Tx) (cs *ChangeSet, err error) {
	defer func() {
		if p := recover(); p != nil {
			cs, err = nil, panicked{p, string(debug.Stack())}
		}
	}()
	return tx.Commit(), nil
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
