// Package schedule holds interleavings of two transactions as static data.
// A schedule is an ordered list of operations, each tagged with the session
// that runs it; the order is the scenario and is never changed.
package schedule

import (
	"fmt"
	"strings"

	"isolab/pkg/txerr"
)

// OpKind is the statement an operation issues.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpCommit
)

// Op is one step of a schedule.
type Op struct {
	Kind    OpKind
	Session int    // 1 or 2
	Row     int64  // unused for commits
	Name    string // new name, writes only
}

// Read is r<session>(row).
func Read(session int, id int64) Op {
	return Op{Kind: OpRead, Session: session, Row: id}
}

// Write is w<session>(row), setting the row's name.
func Write(session int, id int64, name string) Op {
	return Op{Kind: OpWrite, Session: session, Row: id, Name: name}
}

// Commit is c<session>.
func Commit(session int) Op {
	return Op{Kind: OpCommit, Session: session}
}

var rowVars = map[int64]string{1: "x", 2: "y", 3: "z"}

func rowVar(id int64) string {
	if v, ok := rowVars[id]; ok {
		return v
	}
	return fmt.Sprint(id)
}

// String renders the op in textbook notation, e.g. "w2(x)".
func (o Op) String() string {
	switch o.Kind {
	case OpRead:
		return fmt.Sprintf("r%d(%s)", o.Session, rowVar(o.Row))
	case OpWrite:
		return fmt.Sprintf("w%d(%s)", o.Session, rowVar(o.Row))
	default:
		return fmt.Sprintf("c%d", o.Session)
	}
}

// Schedule is a named interleaving.
type Schedule struct {
	Name        string
	Description string
	Ops         []Op
}

// String renders the whole schedule, e.g. "r1(x) w2(x) c2".
func (s Schedule) String() string {
	parts := make([]string, len(s.Ops))
	for i, op := range s.Ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, " ")
}

// Validate checks that every op names session 1 or 2, that no session acts
// after its own commit, and that writes carry a name.
func (s Schedule) Validate() error {
	op := "schedule " + s.Name
	if s.Name == "" {
		return txerr.New(txerr.KindConfiguration, "schedule", "missing name")
	}
	if len(s.Ops) == 0 {
		return txerr.New(txerr.KindConfiguration, op, "no operations")
	}
	committed := map[int]bool{}
	for i, o := range s.Ops {
		if o.Session != 1 && o.Session != 2 {
			return txerr.Newf(txerr.KindConfiguration, op, "step %d: session %d is not 1 or 2", i+1, o.Session)
		}
		if committed[o.Session] {
			return txerr.Newf(txerr.KindConfiguration, op, "step %d: %s after c%d", i+1, o, o.Session)
		}
		switch o.Kind {
		case OpCommit:
			committed[o.Session] = true
		case OpWrite:
			if o.Name == "" {
				return txerr.Newf(txerr.KindConfiguration, op, "step %d: %s has no name", i+1, o)
			}
			fallthrough
		case OpRead:
			if o.Row <= 0 {
				return txerr.Newf(txerr.KindConfiguration, op, "step %d: invalid row %d", i+1, o.Row)
			}
		default:
			return txerr.Newf(txerr.KindConfiguration, op, "step %d: unknown operation", i+1)
		}
	}
	return nil
}

// clone returns a copy whose Ops can be modified without touching s.
func (s Schedule) clone() Schedule {
	ops := make([]Op, len(s.Ops))
	copy(ops, s.Ops)
	s.Ops = ops
	return s
}
