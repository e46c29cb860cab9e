package normdb

import (
	"slices"
	"testing"
)

// featured is a custom index state: a sorted set of book IDs.
type featured struct {
	IDs []string `msgpack:"ids"`
}

func (f featured) Prune(d *Deletions) (IndexState, bool) {
	kept := slices.DeleteFunc(slices.Clone(f.IDs), func(raw string) bool {
		return booksTable.WasDeleted(d, IDOf[Book](raw))
	})
	if len(kept) == len(f.IDs) {
		return f, false
	}
	return featured{kept}, true
}

func (f featured) with(id ID[Book]) featured {
	i, found := slices.BinarySearch(f.IDs, id.Raw())
	if found {
		return f
	}
	return featured{slices.Insert(slices.Clone(f.IDs), i, id.Raw())}
}

func TestIndex_CustomStateIsMutatedAndPruned(t *testing.T) {
	db := setup(t)
	seedBooks(t, db, book1, book2, book3)

	cs := db.Write(func(tx *Tx) {
		featuredBooks.Mutate(tx, func(f featured) featured { return f.with(book3) })
		featuredBooks.Mutate(tx, func(f featured) featured { return f.with(book1) })
	})
	deepEqual(t, featuredBooks.Get(db).IDs, []string{"b1", "b3"})
	if !cs.TouchedIndex("featuredBooks") || cs.TouchedTable("books") {
		t.Fatalf("ChangeSet = %+v, wanted only featuredBooks", cs)
	}

	cs = db.Write(func(tx *Tx) {
		booksTable.Delete(tx, book1)
	})
	deepEqual(t, featuredBooks.Get(db).IDs, []string{"b3"})
	if !cs.TouchedIndex("featuredBooks") {
		t.Fatalf("ChangeSet = %+v, wanted featuredBooks pruned", cs)
	}
}

func TestIndex_MutationsSeeBaseStateThroughTx(t *testing.T) {
	db := setup(t)
	seedBooks(t, db, book1)
	db.Write(func(tx *Tx) {
		featuredBooks.Mutate(tx, func(f featured) featured { return f.with(book1) })
		// index reads through a transaction see the state it started from
		isempty(t, featuredBooks.Get(tx).IDs)
	})
	deepEqual(t, featuredBooks.Get(db).IDs, []string{"b1"})
}

func TestIndex_Sources(t *testing.T) {
	srcs := booksByAuthor.Sources()
	if len(srcs) != 2 || srcs[0] != AnyTable(authorsTable) || srcs[1] != AnyTable(booksTable) {
		t.Fatalf("Sources = %v, wanted [authors books]", srcs)
	}
	if testSchema.IndexNamed("FEATUREDBOOKS") != AnyIndex(featuredBooks) {
		t.Fatalf("IndexNamed did not find featuredBooks")
	}
}

func TestIndex_SkipsPruneForUnrelatedTables(t *testing.T) {
	d := newDeletions(testSchema)
	d.addRaw(authorsTable.tablePos(), "author.1")
	if featuredBooks.prunes(d) {
		t.Fatalf("featuredBooks.prunes(authors deletion) = true, wanted false")
	}
	if !booksByAuthor.prunes(d) {
		t.Fatalf("booksByAuthor.prunes(authors deletion) = false, wanted true")
	}
	if bookOrder.prunes(d) {
		t.Fatalf("bookOrder.prunes(authors deletion) = true, wanted false")
	}
}

func TestDeletions(t *testing.T) {
	d := newDeletions(testSchema)
	if !d.Empty() || d.Len() != 0 || d.Has(booksTable) {
		t.Fatalf("new Deletions is not empty")
	}
	d.addRaw(booksTable.tablePos(), "b2")
	d.addRaw(booksTable.tablePos(), "b1")
	d.addRaw(booksTable.tablePos(), "b1")
	if d.Empty() || d.Len() != 2 || !d.Has(booksTable) || d.Has(authorsTable) {
		t.Fatalf("Deletions = %+v, wanted 2 books", d)
	}
	if !booksTable.WasDeleted(d, book1) || booksTable.WasDeleted(d, book3) {
		t.Fatalf("WasDeleted returned unexpected values")
	}
	deepEqual(t, booksTable.DeletedIDs(d), []ID[Book]{book1, book2})

	var nilDel *Deletions
	if !nilDel.Empty() || nilDel.Len() != 0 || booksTable.WasDeleted(nilDel, book1) {
		t.Fatalf("nil Deletions is not empty")
	}
}
