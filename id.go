package normdb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ID identifies an entity of type E. IDs of different entity types are
// different Go types, so an ID[Book] cannot be used against a table of authors.
type ID[E any] struct {
	raw string
}

// Entity is implemented by every type stored in a table.
type Entity[E any] interface {
	EntityID() ID[E]
}

func IDOf[E any](raw string) ID[E] {
	return ID[E]{raw}
}

// NewID returns a fresh random identifier.
func NewID[E any]() ID[E] {
	return ID[E]{uuid.NewString()}
}

func (id ID[E]) Raw() string    { return id.raw }
func (id ID[E]) IsZero() bool   { return id.raw == "" }
func (id ID[E]) String() string { return id.raw }

func (id ID[E]) MarshalText() ([]byte, error) {
	return []byte(id.raw), nil
}

func (id *ID[E]) UnmarshalText(b []byte) error {
	id.raw = string(b)
	return nil
}

func (id ID[E]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(id.raw)
}

func (id *ID[E]) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	id.raw = s
	return nil
}

func compareIDs[E any](a, b ID[E]) int {
	return strings.Compare(a.raw, b.raw)
}
