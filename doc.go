/*
Package normdb implements an in-memory normalized entity store: typed tables
of entities keyed by ID, plus secondary indexes that refer to those entities
by ID, all held in immutable snapshots.

We implement:

1. Tables, keyed collections of entities of one Go type.

2. Sequence indexes, caller-ordered lists of IDs of one table.

3. Group indexes, one-to-many mappings from a group entity (say, an author)
to an ordered list of member entities (say, books).

4. Custom indexes: any immutable value implementing IndexState.

# Technical Details

**Schema.**
Tables and indexes are declared once, typically as package-level vars,
and each gets a fixed slot in the schema. A snapshot is a slice of table maps
and a slice of index states addressed by those slots.

**Snapshots.**
A snapshot is never modified. A commit derives a new snapshot, cloning only
the slots it changes, and publishes it atomically. Readers keep whatever
snapshot they loaded for as long as they like.

**Referential integrity.**
Indexes never hold IDs of deleted entities. Every commit collects the IDs it
deletes and asks every affected index to prune them before any explicit
index update of the same transaction runs. Deletions are carried over to the
next commit as well, which cleans up entries that an explicit update added
for an entity deleted in the same transaction.

**Commit order.**
1. Prune all indexes against the deleted IDs.
2. Apply entity puts and deletes (the last request per ID wins).
3. Apply explicit index updates in the order they were requested.

## Images

Snapshot.MarshalImage produces a msgpack image of the snapshot: a header with
magic, version, revision and the xxh64 checksum of the body, and a body with
every row and every index state. OpenImage loads it back, dropping any index
entry that refers to a missing entity.
*/
package normdb
