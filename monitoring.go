package normdb

type Stats struct {
	Revision uint64
	Tables   []TableStats
	Indexes  []IndexStats
}

type TableStats struct {
	Name string
	Rows int
}

type IndexStats struct {
	Name string
	// Refs is the number of entity IDs the index holds, or -1 if its state
	// does not implement Referrer.
	Refs int
}

func (s *Stats) TotalRows() int {
	var n int
	for _, ts := range s.Tables {
		n += ts.Rows
	}
	return n
}

func (snap *Snapshot) Stats() Stats {
	result := Stats{Revision: snap.revision}
	for _, tbl := range snap.schema.tables {
		result.Tables = append(result.Tables, TableStats{tbl.Name(), tbl.rowCount(snap)})
	}
	for i, idx := range snap.schema.indexes {
		refs := -1
		if ref, ok := snap.indexes[i].(Referrer); ok {
			refs = 0
			for range ref.References() {
				refs++
			}
		}
		result.Indexes = append(result.Indexes, IndexStats{idx.Name(), refs})
	}
	return result
}
