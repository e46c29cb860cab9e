package normdb

import (
	"fmt"
	"strings"
)

// Schema is the fixed set of tables and indexes making up one database.
// Tables and indexes are added at package init time via AddTable, AddIndex,
// AddSequenceIndex and AddGroupIndex; the schema is sealed when the first
// database is opened on it.
type Schema struct {
	tables             []AnyTable
	indexes            []AnyIndex
	tablesByLowerName  map[string]AnyTable
	indexesByLowerName map[string]AnyIndex
	sealed             bool
}

type SchemaOpts struct {
}

func NewSchema(opt SchemaOpts) *Schema {
	scm := &Schema{}
	scm.init()
	return scm
}

func (scm *Schema) init() {
	if scm.tablesByLowerName == nil {
		scm.tablesByLowerName = make(map[string]AnyTable)
		scm.indexesByLowerName = make(map[string]AnyIndex)
	}
}

func (scm *Schema) Tables() []AnyTable {
	return append([]AnyTable(nil), scm.tables...)
}

func (scm *Schema) Indexes() []AnyIndex {
	return append([]AnyIndex(nil), scm.indexes...)
}

func (scm *Schema) TableNamed(name string) AnyTable {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

func (scm *Schema) IndexNamed(name string) AnyIndex {
	return scm.indexesByLowerName[strings.ToLower(name)]
}

func (scm *Schema) reserveName(name string) string {
	scm.init()
	if scm.sealed {
		panic(fmt.Errorf("cannot add %q: schema is already in use by an open database", name))
	}
	if name == "" {
		panic("empty table or index name")
	}
	lower := strings.ToLower(name)
	if scm.tablesByLowerName[lower] != nil || scm.indexesByLowerName[lower] != nil {
		panic(fmt.Errorf("duplicate table or index name %q", name))
	}
	return lower
}

func (scm *Schema) addTable(tbl AnyTable) {
	lower := scm.reserveName(tbl.Name())
	scm.tables = append(scm.tables, tbl)
	scm.tablesByLowerName[lower] = tbl
}

func (scm *Schema) addIndex(idx AnyIndex) {
	lower := scm.reserveName(idx.Name())
	for _, src := range idx.Sources() {
		if src.Schema() != scm {
			panic(fmt.Errorf("index %s: source table %s belongs to another schema", idx.Name(), src.Name()))
		}
	}
	scm.indexes = append(scm.indexes, idx)
	scm.indexesByLowerName[lower] = idx
}

func (scm *Schema) seal() {
	scm.init()
	scm.sealed = true
}

func (scm *Schema) emptySnapshot() *Snapshot {
	snap := &Snapshot{
		schema:  scm,
		tables:  make([]any, len(scm.tables)),
		indexes: make([]IndexState, len(scm.indexes)),
	}
	for i, tbl := range scm.tables {
		snap.tables[i] = tbl.emptyRows()
	}
	for i, idx := range scm.indexes {
		snap.indexes[i] = idx.initialState()
	}
	return snap
}
