package normdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump returns a human-readable listing of the snapshot, for debugging and
// tests.
func (snap *Snapshot) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		fmt.Fprintf(&buf, "revision %d\n", snap.revision)
	}
	for _, tbl := range snap.schema.tables {
		snap.dumpTable(&buf, f, tbl)
	}
	if f.Contains(DumpIndices) {
		for i, idx := range snap.schema.indexes {
			fmt.Fprintln(&buf, dumpSep2)
			fmt.Fprintf(&buf, "%s = %v\n", idx.Name(), snap.indexes[i])
		}
	}
	return buf.String()
}

func (snap *Snapshot) dumpTable(w *strings.Builder, f DumpFlags, tbl AnyTable) {
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s %d rows\n", rpad(tbl.Name(), 24, ' '), tbl.rowCount(snap))
	}
	if f.Contains(DumpRows) {
		tbl.dumpRows(w, tbl.Name(), snap)
	}
}
