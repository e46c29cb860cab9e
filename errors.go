package normdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTxClosed is the panic value raised when a committed or rolled back
	// transaction is used again.
	ErrTxClosed = errors.New("transaction already closed")

	ErrSchemaMismatch = errors.New("image does not match schema")
	ErrChecksum       = errors.New("image checksum mismatch")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

type TableError struct {
	Table string
	Index string
	Key   string
	Msg   string
	Err   error
}

func tableErrf(tbl, idx, key string, err error, format string, args ...any) error {
	return &TableError{tbl, idx, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != "" {
		buf.WriteByte('/')
		buf.WriteString(e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// IntegrityError reports an index that violates its invariants, typically
// by referencing an entity that does not exist.
type IntegrityError struct {
	Index string
	Table string
	ID    string
	Err   error
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index %s: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("index %s references missing %s/%s", e.Index, e.Table, e.ID)
}
