// Package isolation defines the transaction isolation levels the harness
// drives the engine under, and the per-level behavior the engine derives
// from them.
package isolation

import (
	"database/sql"
	"fmt"
	"strings"
)

// Level is a transaction isolation level. Values are passed through to the
// engine verbatim.
type Level int

const (
	ReadCommitted Level = iota
	RepeatableRead
	Serializable
)

// Default is the level every new session starts with.
const Default = ReadCommitted

var levelNames = map[Level]string{
	ReadCommitted:  "READ COMMITTED",
	RepeatableRead: "REPEATABLE READ",
	Serializable:   "SERIALIZABLE",
}

// Levels returns every level, weakest first.
func Levels() []Level { return []Level{ReadCommitted, RepeatableRead, Serializable} }

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// PerStatementSnapshot returns whether the level takes a fresh read
// snapshot for each statement instead of one per transaction.
func (l Level) PerStatementSnapshot() bool {
	return l == ReadCommitted
}

// RejectsConcurrentUpdate returns whether updating a row that another
// transaction changed after our snapshot must fail instead of proceeding
// on the newer version.
func (l Level) RejectsConcurrentUpdate() bool {
	return l != ReadCommitted
}

// ToleratesWriteSkew returns whether two transactions may commit after
// each read what the other one wrote.
func (l Level) ToleratesWriteSkew() bool {
	return l != Serializable
}

// RequiresRowLocks returns whether reads and writes at this level are
// preceded by explicit FOR SHARE / FOR UPDATE row locks.
func (l Level) RequiresRowLocks() bool {
	return l == Serializable
}

// SQL maps the level onto database/sql.
func (l Level) SQL() sql.IsolationLevel {
	switch l {
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

// Parse accepts a level name in any case, with spaces, dashes or
// underscores, or one of the short forms rc, rr and ser.
func Parse(s string) (Level, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch norm {
	case "RC", "READ COMMITTED", "READCOMMITTED":
		return ReadCommitted, nil
	case "RR", "REPEATABLE READ", "REPEATABLEREAD":
		return RepeatableRead, nil
	case "SER", "S", "SERIALIZABLE":
		return Serializable, nil
	}
	return 0, fmt.Errorf("unknown isolation level %q", s)
}

// ParseList parses a comma separated list of levels. An empty string
// yields every level.
func ParseList(s string) ([]Level, error) {
	if strings.TrimSpace(s) == "" {
		return Levels(), nil
	}
	var levels []Level
	for _, part := range strings.Split(s, ",") {
		l, err := Parse(part)
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}
