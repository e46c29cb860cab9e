package normdb

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const trackTxns = true

// DB holds the current snapshot of a schema and serializes writers. Readers
// never block: they load the current snapshot and keep using it for as long
// as they like.
type DB struct {
	schema   *Schema
	logf     func(format string, args ...any)
	verbose  bool
	strict   bool
	onCommit func(cs *ChangeSet)

	current   atomic.Pointer[Snapshot]
	writeLock sync.Mutex
	writer    atomic.Pointer[Tx]

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	Logf    func(format string, args ...any)
	Verbose bool

	// Strict verifies referential integrity after every commit and panics
	// on violations. Meant for tests; note that an index update referencing
	// an entity deleted in the same transaction is a violation until the
	// next commit.
	Strict bool

	// OnCommit is called after each commit, outside of the write lock.
	OnCommit func(cs *ChangeSet)
}

func Open(scm *Schema, opt Options) *DB {
	nonNil(scm).seal()
	return openSnapshot(scm.emptySnapshot(), opt)
}

func openSnapshot(snap *Snapshot, opt Options) *DB {
	db := &DB{
		schema:   snap.schema,
		logf:     opt.Logf,
		verbose:  opt.Verbose,
		strict:   opt.Strict,
		onCommit: opt.OnCommit,
	}
	if db.logf == nil {
		db.logf = func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...))
		}
	}
	db.current.Store(snap)
	return db
}

func (db *DB) Schema() *Schema {
	return db.schema
}

// Snapshot returns the current snapshot. It implements Reader.
func (db *DB) Snapshot() *Snapshot {
	db.ReadCount.Add(1)
	return db.current.Load()
}

func (db *DB) Read(f func(snap *Snapshot)) {
	f(db.Snapshot())
}

// BeginUpdate starts a transaction, waiting for the previous writer to
// finish. The caller must Commit or Rollback it.
func (db *DB) BeginUpdate() *Tx {
	db.writeLock.Lock()
	tx := db.newTx(db.current.Load())
	db.writer.Store(tx)
	return tx
}

// Write runs f in a transaction and commits it. If f panics, the
// transaction is rolled back and the panic propagates.
func (db *DB) Write(f func(tx *Tx)) *ChangeSet {
	tx := db.BeginUpdate()
	defer tx.Rollback()
	f(tx)
	return tx.Commit()
}

// Update runs f in a transaction and commits it unless f returns an error or
// panics, in which case nothing is changed. Panics are returned as errors,
// including those raised on commit by index mutations queued in f.
func (db *DB) Update(f func(tx *Tx) error) (*ChangeSet, error) {
	tx := db.BeginUpdate()
	defer tx.Rollback()
	err := safelyCall(f, tx)
	if err != nil {
		return nil, err
	}
	return safelyCommit(tx)
}

// PerformBatchUpdate runs f in a transaction, commits it and returns both the
// result of f and the change set.
func PerformBatchUpdate[R any](db *DB, f func(tx *Tx) R) (R, *ChangeSet) {
	tx := db.BeginUpdate()
	defer tx.Rollback()
	result := f(tx)
	return result, tx.Commit()
}

func (db *DB) commit(tx *Tx) *ChangeSet {
	defer db.endWrite(tx)
	snap, cs := tx.apply()
	if db.strict {
		if err := snap.Verify(); err != nil {
			panic(fmt.Errorf("commit r=%d: %w", snap.revision, err))
		}
	}
	db.current.Store(snap)
	db.WriteCount.Add(1)
	return cs
}

func (db *DB) endWrite(tx *Tx) {
	if !db.writer.CompareAndSwap(tx, nil) {
		panic("transaction is not the current writer")
	}
	db.writeLock.Unlock()
}

// DescribeOpenTxns returns a human-readable description of the writer
// currently holding the database, for diagnosing stuck transactions.
func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}
	tx := db.writer.Load()
	if tx == nil {
		return "NO OPEN TRANSACTIONS"
	}
	ms := time.Since(tx.startTime).Milliseconds()
	if ms < 100 {
		return fmt.Sprintf("1 OPEN TRANSACTION:\n\n---\nopen for %d ms\n", ms)
	}
	return fmt.Sprintf("1 OPEN TRANSACTION:\n\n---\nopen for %d ms:\n%s", ms, tx.stack)
}
