package normdb

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Sequence is an immutable ordered list of distinct entity IDs.
type Sequence[E Entity[E]] struct {
	tbl *Table[E]
	ids []ID[E]
	pos map[ID[E]]int
}

func newSequence[E Entity[E]](tbl *Table[E], ids []ID[E]) Sequence[E] {
	pos := make(map[ID[E]]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return Sequence[E]{tbl, ids, pos}
}

// IDs returns a copy of the IDs in order.
func (s Sequence[E]) IDs() []ID[E] { return slices.Clone(s.ids) }
func (s Sequence[E]) Len() int     { return len(s.ids) }
func (s Sequence[E]) At(i int) ID[E] {
	return s.ids[i]
}

func (s Sequence[E]) Contains(id ID[E]) bool {
	_, found := s.pos[id]
	return found
}

// IndexOf returns the position of id, or -1.
func (s Sequence[E]) IndexOf(id ID[E]) int {
	if i, found := s.pos[id]; found {
		return i
	}
	return -1
}

func (s Sequence[E]) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, id := range s.ids {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(id.raw)
	}
	buf.WriteByte(']')
	return buf.String()
}

func (s Sequence[E]) Prune(d *Deletions) (IndexState, bool) {
	if !d.Has(s.tbl) {
		return s, false
	}
	kept := make([]ID[E], 0, len(s.ids))
	for _, id := range s.ids {
		if !s.tbl.WasDeleted(d, id) {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(s.ids) {
		return s, false
	}
	return newSequence(s.tbl, kept), true
}

func (s Sequence[E]) References() iter.Seq2[AnyTable, string] {
	return func(yield func(AnyTable, string) bool) {
		for _, id := range s.ids {
			if !yield(s.tbl, id.raw) {
				return
			}
		}
	}
}

// insert places id at position at, removing an earlier occurrence first.
func (s Sequence[E]) insert(id ID[E], at int) (Sequence[E], bool) {
	ids := s.without(id)
	at = max(0, min(at, len(ids)))
	ids = slices.Insert(ids, at, id)
	return s.replaced(ids)
}

func (s Sequence[E]) remove(id ID[E]) (Sequence[E], bool) {
	if !s.Contains(id) {
		return s, false
	}
	return newSequence(s.tbl, s.without(id)), true
}

func (s Sequence[E]) without(id ID[E]) []ID[E] {
	ids := make([]ID[E], 0, len(s.ids)+1)
	for _, v := range s.ids {
		if v != id {
			ids = append(ids, v)
		}
	}
	return ids
}

func (s Sequence[E]) replaced(ids []ID[E]) (Sequence[E], bool) {
	if slices.Equal(ids, s.ids) {
		return s, false
	}
	return newSequence(s.tbl, ids), true
}

func (s Sequence[E]) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(s.ids)); err != nil {
		return err
	}
	for _, id := range s.ids {
		if err := enc.EncodeString(id.raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence[E]) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	ids := make([]ID[E], 0, allocHint(n))
	seen := make(map[ID[E]]bool, allocHint(n))
	for range n {
		raw, err := dec.DecodeString()
		if err != nil {
			return err
		}
		id := ID[E]{raw}
		if seen[id] {
			return fmt.Errorf("duplicate ID %q in sequence", raw)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	*s = newSequence(s.tbl, ids)
	return nil
}

// SequenceIndex keeps a caller-ordered list of IDs of one table. IDs of
// deleted entities are removed automatically.
type SequenceIndex[E Entity[E]] struct {
	*Index[Sequence[E]]
	tbl *Table[E]
}

func AddSequenceIndex[E Entity[E]](scm *Schema, name string, tbl *Table[E]) *SequenceIndex[E] {
	return &SequenceIndex[E]{
		Index: AddIndex(scm, name, newSequence[E](tbl, nil), AnyTable(tbl)),
		tbl:   tbl,
	}
}

func (idx *SequenceIndex[E]) Table() *Table[E] { return idx.tbl }

func (idx *SequenceIndex[E]) All(r Reader) []ID[E] {
	return idx.Get(r).IDs()
}

func (idx *SequenceIndex[E]) Contains(r Reader, id ID[E]) bool {
	return idx.Get(r).Contains(id)
}

func (idx *SequenceIndex[E]) Len(r Reader) int {
	return idx.Get(r).Len()
}

// Append moves id to the end of the sequence, adding it if needed.
func (idx *SequenceIndex[E]) Append(tx *Tx, id ID[E]) {
	idx.Insert(tx, id, math.MaxInt)
}

// Prepend moves id to the start of the sequence, adding it if needed.
func (idx *SequenceIndex[E]) Prepend(tx *Tx, id ID[E]) {
	idx.Insert(tx, id, 0)
}

// Insert places id at position at (clamped to the sequence bounds). IDs of
// entities that do not exist once table changes are applied are skipped.
func (idx *SequenceIndex[E]) Insert(tx *Tx, id ID[E], at int) {
	idx.mutate(tx, func(next *Snapshot, s Sequence[E]) (Sequence[E], bool) {
		if !idx.tbl.Exists(next, id) {
			if tx.verbose {
				tx.logf("db: INDEX.SKIP %s: %s does not exist", idx.name, idx.tbl.keyString(id))
			}
			return s, false
		}
		return s.insert(id, at)
	})
}

func (idx *SequenceIndex[E]) Remove(tx *Tx, id ID[E]) {
	idx.mutate(tx, func(next *Snapshot, s Sequence[E]) (Sequence[E], bool) {
		return s.remove(id)
	})
}

// Move moves an existing id to position to. Does nothing if id is not in
// the sequence.
func (idx *SequenceIndex[E]) Move(tx *Tx, id ID[E], to int) {
	idx.mutate(tx, func(next *Snapshot, s Sequence[E]) (Sequence[E], bool) {
		if !s.Contains(id) {
			return s, false
		}
		return s.insert(id, to)
	})
}

func (idx *SequenceIndex[E]) MoveToFront(tx *Tx, id ID[E]) {
	idx.Move(tx, id, 0)
}

func (idx *SequenceIndex[E]) MoveToBack(tx *Tx, id ID[E]) {
	idx.Move(tx, id, math.MaxInt)
}

// Replace sets the whole sequence. Duplicates and IDs of missing entities
// are dropped.
func (idx *SequenceIndex[E]) Replace(tx *Tx, ids []ID[E]) {
	ids = slices.Clone(ids)
	idx.mutate(tx, func(next *Snapshot, s Sequence[E]) (Sequence[E], bool) {
		seen := make(map[ID[E]]bool, len(ids))
		kept := make([]ID[E], 0, len(ids))
		for _, id := range ids {
			if seen[id] || !idx.tbl.Exists(next, id) {
				continue
			}
			seen[id] = true
			kept = append(kept, id)
		}
		return s.replaced(kept)
	})
}
