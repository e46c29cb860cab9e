package normdb

import (
	"fmt"
	"slices"
)

type (
	// ChangeSet describes what a committed transaction changed. The reactive
	// layer owning the database uses it to decide which subscribers to notify.
	ChangeSet struct {
		Revision uint64
		Tables   []string // tables with at least one put or effective delete
		Indexes  []string // indexes whose state changed
		Changes  []Change
	}

	Change struct {
		Table string
		Op    Op
		ID    string
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Tables) == 0 && len(cs.Indexes) == 0
}

func (cs *ChangeSet) TouchedTable(name string) bool {
	return slices.Contains(cs.Tables, name)
}

func (cs *ChangeSet) TouchedIndex(name string) bool {
	return slices.Contains(cs.Indexes, name)
}

func (cs *ChangeSet) addChange(table string, op Op, raw string) {
	cs.Changes = append(cs.Changes, Change{table, op, raw})
}

func (chg Change) String() string {
	return fmt.Sprintf("%s %s/%s", chg.Op, chg.Table, chg.ID)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
