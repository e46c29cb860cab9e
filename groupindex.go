package normdb

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Groups is an immutable one-to-many mapping from group entity IDs to ordered
// lists of member entity IDs. A group is present iff its list is non-empty.
type Groups[G Entity[G], M Entity[M]] struct {
	groupTbl  *Table[G]
	memberTbl *Table[M]
	m         map[ID[G]][]ID[M]
}

// Keys returns the non-empty groups sorted by raw ID.
func (gs Groups[G, M]) Keys() []ID[G] {
	keys := slices.Collect(maps.Keys(gs.m))
	slices.SortFunc(keys, compareIDs[G])
	return keys
}

func (gs Groups[G, M]) Len() int { return len(gs.m) }

func (gs Groups[G, M]) Has(g ID[G]) bool {
	return len(gs.m[g]) > 0
}

// IDs returns a copy of the members of group g; empty for unknown groups.
func (gs Groups[G, M]) IDs(g ID[G]) []ID[M] {
	return slices.Clone(gs.m[g])
}

// GroupsOf returns the groups containing m, sorted by raw ID.
func (gs Groups[G, M]) GroupsOf(m ID[M]) []ID[G] {
	var result []ID[G]
	for g, members := range gs.m {
		if slices.Contains(members, m) {
			result = append(result, g)
		}
	}
	slices.SortFunc(result, compareIDs[G])
	return result
}

func (gs Groups[G, M]) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, g := range gs.Keys() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(g.raw)
		buf.WriteString(": [")
		for j, id := range gs.m[g] {
			if j > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(id.raw)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.String()
}

func (gs Groups[G, M]) Prune(d *Deletions) (IndexState, bool) {
	pruneGroups, pruneMembers := d.Has(gs.groupTbl), d.Has(gs.memberTbl)
	if !pruneGroups && !pruneMembers {
		return gs, false
	}
	var m map[ID[G]][]ID[M]
	for g, members := range gs.m {
		if pruneGroups && gs.groupTbl.WasDeleted(d, g) {
			if m == nil {
				m = maps.Clone(gs.m)
			}
			delete(m, g)
			continue
		}
		if !pruneMembers {
			continue
		}
		kept := slices.DeleteFunc(slices.Clone(members), func(id ID[M]) bool {
			return gs.memberTbl.WasDeleted(d, id)
		})
		if len(kept) == len(members) {
			continue
		}
		if m == nil {
			m = maps.Clone(gs.m)
		}
		if len(kept) == 0 {
			delete(m, g)
		} else {
			m[g] = kept
		}
	}
	if m == nil {
		return gs, false
	}
	gs.m = m
	return gs, true
}

func (gs Groups[G, M]) References() iter.Seq2[AnyTable, string] {
	return func(yield func(AnyTable, string) bool) {
		for _, g := range gs.Keys() {
			if !yield(gs.groupTbl, g.raw) {
				return
			}
			for _, id := range gs.m[g] {
				if !yield(gs.memberTbl, id.raw) {
					return
				}
			}
		}
	}
}

func (gs Groups[G, M]) Check(snap *Snapshot) error {
	for g, members := range gs.m {
		if len(members) == 0 {
			return fmt.Errorf("group %s is present but empty", g.raw)
		}
	}
	return nil
}

func (gs Groups[G, M]) update(g ID[G], f func(ids *[]ID[M])) (Groups[G, M], bool) {
	old := gs.m[g]
	ids := slices.Clone(old)
	f(&ids)
	if slices.Equal(ids, old) {
		return gs, false
	}
	m := maps.Clone(gs.m)
	if m == nil {
		m = make(map[ID[G]][]ID[M])
	}
	if len(ids) == 0 {
		delete(m, g)
	} else {
		m[g] = ids
	}
	gs.m = m
	return gs, true
}

func (gs Groups[G, M]) EncodeMsgpack(enc *msgpack.Encoder) error {
	keys := gs.Keys()
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, g := range keys {
		if err := enc.EncodeString(g.raw); err != nil {
			return err
		}
		members := gs.m[g]
		if err := enc.EncodeArrayLen(len(members)); err != nil {
			return err
		}
		for _, id := range members {
			if err := enc.EncodeString(id.raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (gs *Groups[G, M]) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	m := make(map[ID[G]][]ID[M], allocHint(n))
	for range n {
		g, err := dec.DecodeString()
		if err != nil {
			return err
		}
		cnt, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if _, dup := m[ID[G]{g}]; dup {
			return fmt.Errorf("duplicate group %q", g)
		}
		members := make([]ID[M], 0, allocHint(cnt))
		for range cnt {
			raw, err := dec.DecodeString()
			if err != nil {
				return err
			}
			members = append(members, ID[M]{raw})
		}
		m[ID[G]{g}] = members
	}
	for g, members := range m {
		if len(members) == 0 {
			delete(m, g)
		}
	}
	gs.m = m
	return nil
}

// GroupIndex groups member entities of type M under group entities of type G,
// e.g. books by author.
//
// Deleting a group entity drops its group; deleting a member entity removes
// it from every group, dropping groups that become empty. This pruning runs
// before the explicit updates of the same transaction, so an update that
// references an entity deleted in the same transaction leaves a dangling
// entry which is pruned by the next transaction.
type GroupIndex[G Entity[G], M Entity[M]] struct {
	*Index[Groups[G, M]]
	groupTbl  *Table[G]
	memberTbl *Table[M]
}

func AddGroupIndex[G Entity[G], M Entity[M]](scm *Schema, name string, groupTbl *Table[G], memberTbl *Table[M]) *GroupIndex[G, M] {
	initial := Groups[G, M]{groupTbl: groupTbl, memberTbl: memberTbl}
	return &GroupIndex[G, M]{
		Index:     AddIndex(scm, name, initial, AnyTable(groupTbl), AnyTable(memberTbl)),
		groupTbl:  groupTbl,
		memberTbl: memberTbl,
	}
}

func (idx *GroupIndex[G, M]) GroupTable() *Table[G]  { return idx.groupTbl }
func (idx *GroupIndex[G, M]) MemberTable() *Table[M] { return idx.memberTbl }

// Groups returns the keys of all non-empty groups, sorted by raw ID.
func (idx *GroupIndex[G, M]) Groups(r Reader) []ID[G] {
	return idx.Get(r).Keys()
}

// OrderedIDs returns the members of group g in order. An unknown group
// yields an empty result.
func (idx *GroupIndex[G, M]) OrderedIDs(r Reader, g ID[G]) []ID[M] {
	return idx.Get(r).IDs(g)
}

func (idx *GroupIndex[G, M]) GroupsOf(r Reader, m ID[M]) []ID[G] {
	return idx.Get(r).GroupsOf(m)
}

// Update schedules an in-place edit of group g's member list. The group is
// created when the list becomes non-empty and dropped when it becomes empty.
func (idx *GroupIndex[G, M]) Update(tx *Tx, g ID[G], f func(ids *[]ID[M])) {
	if g.IsZero() {
		panic(tableErrf(idx.groupTbl.name, idx.name, "", nil, "attempt to update zero group ID"))
	}
	idx.mutate(tx, func(next *Snapshot, gs Groups[G, M]) (Groups[G, M], bool) {
		return gs.update(g, f)
	})
}

// Add appends m to group g unless it is already there.
func (idx *GroupIndex[G, M]) Add(tx *Tx, g ID[G], m ID[M]) {
	idx.Update(tx, g, func(ids *[]ID[M]) {
		if !slices.Contains(*ids, m) {
			*ids = append(*ids, m)
		}
	})
}

// Remove removes m from group g.
func (idx *GroupIndex[G, M]) Remove(tx *Tx, g ID[G], m ID[M]) {
	idx.Update(tx, g, func(ids *[]ID[M]) {
		*ids = slices.DeleteFunc(*ids, func(id ID[M]) bool { return id == m })
	})
}
