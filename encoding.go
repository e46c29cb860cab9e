package normdb

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	imageMagic   = "NRMDB"
	imageVersion = 1

	// snappy cannot expand input by more than this factor
	maxSnappyRatio = 32

	// cap on preallocation from length prefixes read from an image
	maxAllocHint = 1024
)

func allocHint(n int) int {
	return max(0, min(n, maxAllocHint))
}

// image is the envelope of a serialized snapshot. Body holds a snappy-compressed
// msgpack-encoded imageBody; Checksum is the xxh64 of Body as stored.
type image struct {
	Magic    string `msgpack:"m"`
	Version  int    `msgpack:"v"`
	Revision uint64 `msgpack:"r"`
	Checksum uint64 `msgpack:"c"`
	Body     []byte `msgpack:"b"`
}

type imageBody struct {
	Tables  map[string]map[string]msgpack.RawMessage `msgpack:"t"`
	Indexes map[string]msgpack.RawMessage            `msgpack:"i"`
}

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte, v any) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// MarshalImage serializes the snapshot. Entities and custom index states
// must be encodable with msgpack. The store never writes images anywhere;
// keeping them is up to the caller.
func (snap *Snapshot) MarshalImage() ([]byte, error) {
	scm := snap.schema
	body := imageBody{
		Tables:  make(map[string]map[string]msgpack.RawMessage, len(scm.tables)),
		Indexes: make(map[string]msgpack.RawMessage, len(scm.indexes)),
	}
	for _, tbl := range scm.tables {
		rows, err := tbl.encodeRows(snap)
		if err != nil {
			return nil, err
		}
		body.Tables[tbl.Name()] = rows
	}
	for i, idx := range scm.indexes {
		raw, err := encodeValue(snap.indexes[i])
		if err != nil {
			return nil, tableErrf("", idx.Name(), "", err, "encoding index")
		}
		body.Indexes[idx.Name()] = raw
	}

	bodyRaw, err := encodeValue(&body)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	bodyRaw = snappy.Encode(nil, bodyRaw)
	return encodeValue(&image{
		Magic:    imageMagic,
		Version:  imageVersion,
		Revision: snap.revision,
		Checksum: xxhash.Sum64(bodyRaw),
		Body:     bodyRaw,
	})
}

// UnmarshalImage decodes an image produced by MarshalImage for the same
// schema. Tables and indexes missing from the image start out empty; index
// references to entities missing from the image are dropped.
func UnmarshalImage(scm *Schema, data []byte) (*Snapshot, error) {
	snap, _, err := unmarshalImage(scm, data)
	return snap, err
}

func unmarshalImage(scm *Schema, data []byte) (*Snapshot, []string, error) {
	var img image
	if err := decodeValue(data, &img); err != nil {
		return nil, nil, fmt.Errorf("image: %w", err)
	}
	if img.Magic != imageMagic {
		return nil, nil, dataErrf(data, 0, nil, "not an image (magic %q)", img.Magic)
	}
	if img.Version != imageVersion {
		return nil, nil, dataErrf(data, 0, nil, "unsupported image version %d", img.Version)
	}
	if sum := xxhash.Sum64(img.Body); sum != img.Checksum {
		return nil, nil, fmt.Errorf("%w: stored %016x, computed %016x", ErrChecksum, img.Checksum, sum)
	}

	bodyLen, err := snappy.DecodedLen(img.Body)
	if err != nil {
		return nil, nil, dataErrf(img.Body, 0, err, "image body is not snappy-compressed")
	}
	if bodyLen > maxSnappyRatio*len(img.Body)+64 {
		return nil, nil, dataErrf(img.Body, 0, nil, "image body claims %d bytes decompressed from %d", bodyLen, len(img.Body))
	}
	bodyRaw, err := snappy.Decode(nil, img.Body)
	if err != nil {
		return nil, nil, dataErrf(img.Body, 0, err, "image body is not snappy-compressed")
	}
	var body imageBody
	if err := decodeValue(bodyRaw, &body); err != nil {
		return nil, nil, fmt.Errorf("image body: %w", err)
	}

	scm.seal()
	snap := scm.emptySnapshot()
	snap.revision = img.Revision
	for name, rows := range body.Tables {
		tbl := scm.TableNamed(name)
		if tbl == nil {
			return nil, nil, fmt.Errorf("%w: unknown table %q", ErrSchemaMismatch, name)
		}
		decoded, err := tbl.decodeRows(rows)
		if err != nil {
			return nil, nil, err
		}
		snap.tables[tbl.tablePos()] = decoded
	}
	for name, raw := range body.Indexes {
		idx := scm.IndexNamed(name)
		if idx == nil {
			return nil, nil, fmt.Errorf("%w: unknown index %q", ErrSchemaMismatch, name)
		}
		st, err := idx.decodeState(raw)
		if err != nil {
			return nil, nil, tableErrf("", name, "", err, "decoding index")
		}
		snap.indexes[idx.indexPos()] = st
	}
	swept := snap.sweep()
	return snap, swept, nil
}

// OpenImage opens a database whose initial snapshot is decoded from data.
func OpenImage(scm *Schema, data []byte, opt Options) (*DB, error) {
	snap, swept, err := unmarshalImage(scm, data)
	if err != nil {
		return nil, err
	}
	db := openSnapshot(snap, opt)
	if db.verbose {
		db.logf("db: OPEN.IMAGE r=%d size=%d", snap.revision, len(data))
	}
	for _, name := range swept {
		db.logf("db: dropped dangling references from index %s while loading image", name)
	}
	return db, nil
}
