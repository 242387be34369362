package engine

import (
	"isolab/pkg/isolation"
	"isolab/pkg/row"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a Transaction.
type Status int

const (
	Active Status = iota
	Aborted
	Committed
	RolledBack
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Aborted:
		return "aborted"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Transaction is one explicit transaction. Everything except
// lockedResources is guarded by the engine mutex; lockedResources belongs
// to the ResourceLockManager.
type Transaction struct {
	id     uuid.UUID
	level  isolation.Level
	status Status

	started  bool   // set by the first statement
	startTS  uint64 // snapshot of REPEATABLE READ and SERIALIZABLE transactions
	commitTS uint64

	writes   map[int64]row.Row // uncommitted row images
	readSet  *bitset.BitSet    // SIREAD marks by row id
	writeSet *bitset.BitSet

	// rw-antidependencies: in holds readers that missed our writes,
	// out holds writers whose changes we missed.
	inConflicts  map[*Transaction]struct{}
	outConflicts map[*Transaction]struct{}

	lockedResources map[Resource]struct{}
}

func newTransaction(level isolation.Level) *Transaction {
	return &Transaction{
		id:              uuid.New(),
		level:           level,
		writes:          make(map[int64]row.Row),
		readSet:         bitset.New(8),
		writeSet:        bitset.New(8),
		inConflicts:     make(map[*Transaction]struct{}),
		outConflicts:    make(map[*Transaction]struct{}),
		lockedResources: make(map[Resource]struct{}),
	}
}

func (t *Transaction) GetID() uuid.UUID {
	return t.id
}

func (t *Transaction) GetLevel() isolation.Level {
	return t.level
}

// read marks row id in the SIREAD set.
func (t *Transaction) markRead(id int64) {
	t.readSet.Set(uint(id))
}

func (t *Transaction) hasRead(id int64) bool {
	return t.readSet.Test(uint(id))
}

func (t *Transaction) hasWritten(id int64) bool {
	return t.writeSet.Test(uint(id))
}

// addConflict records reader -rw-> writer.
func addConflict(reader, writer *Transaction) {
	if reader == writer {
		return
	}
	reader.outConflicts[writer] = struct{}{}
	writer.inConflicts[reader] = struct{}{}
}

// live reports whether a conflict partner still counts: an aborted or
// rolled back partner cannot complete a dangerous structure.
func live(t *Transaction) bool {
	return t.status == Active || t.status == Committed
}

// isPivot reports whether t has a live rw-antidependency both into and out
// of it, the dangerous structure that SERIALIZABLE refuses to commit.
func (t *Transaction) isPivot() bool {
	in, out := false, false
	for other := range t.inConflicts {
		if live(other) {
			in = true
			break
		}
	}
	for other := range t.outConflicts {
		if live(other) {
			out = true
			break
		}
	}
	return in && out
}
