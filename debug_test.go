package normdb

import (
	"strings"
	"testing"
)

func TestDumpFlags_Contains(t *testing.T) {
	f := DumpRows | DumpIndices
	if !f.Contains(DumpRows) || !f.Contains(DumpRows|DumpIndices) || f.Contains(DumpStats) {
		t.Fatalf("Contains returned unexpected values for %v", f)
	}
	if !DumpAll.Contains(DumpTableHeaders | DumpStats) {
		t.Fatalf("DumpAll does not contain everything")
	}
}

func TestSnapshot_Dump(t *testing.T) {
	db := setup(t)
	seedA(t, db)

	s := db.Snapshot().Dump(DumpAll)
	for _, want := range []string{
		"revision 1",
		"authors",
		`authors.1 = author.1 {"ID":"author.1","Name":"Ann"}`,
		`books.1 = some {"ID":"some","AuthorID":"author.1","Title":"Some"}`,
		"booksByAuthor = {author.1: [some]}",
		"bookOrder = []",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Dump does not contain %q:\n%s", want, s)
		}
	}

	s = db.Snapshot().Dump(DumpTableHeaders)
	if strings.Contains(s, "Ann") || strings.Contains(s, "booksByAuthor") {
		t.Fatalf("Dump(DumpTableHeaders) includes rows or indexes:\n%s", s)
	}
}

func TestSnapshot_DumpSuppressesContent(t *testing.T) {
	scm := NewSchema(SchemaOpts{})
	secrets := AddTable[Author](scm, "secrets", SuppressContentWhenLogging)
	db := Open(scm, Options{Logf: t.Logf, Verbose: true})
	db.Write(func(tx *Tx) {
		secrets.Put(tx, Author{ID: author1, Name: "hidden"})
	})
	s := db.Snapshot().Dump(DumpRows)
	if strings.Contains(s, "hidden") || !strings.Contains(s, "<suppressed>") {
		t.Fatalf("Dump = %q, wanted suppressed content", s)
	}
}

func TestSnapshot_Stats(t *testing.T) {
	db := setup(t)
	seedA(t, db)
	seedBooks(t, db, book1, book2)

	st := db.Snapshot().Stats()
	cmpEqual(t, st, Stats{
		Revision: 2,
		Tables: []TableStats{
			{Name: "authors", Rows: 1},
			{Name: "books", Rows: 3},
		},
		Indexes: []IndexStats{
			{Name: "booksByAuthor", Refs: 2},
			{Name: "bookOrder", Refs: 2},
			{Name: "featuredBooks", Refs: -1},
		},
	})
	if n := st.TotalRows(); n != 4 {
		t.Fatalf("TotalRows = %d, wanted 4", n)
	}
}
