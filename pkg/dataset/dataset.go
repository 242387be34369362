// Package dataset defines what the harness needs from the relational engine
// it demonstrates: fresh connections that run explicit transactions, and a
// way to put the shared table back into its canonical state.
package dataset

import (
	"context"
	"errors"

	"isolab/pkg/isolation"
	"isolab/pkg/row"
)

// ErrRowNotFound is returned when no row has the requested id.
var ErrRowNotFound = errors.New("row not found")

// LockMode is an explicit row lock requested ahead of a statement.
type LockMode int

const (
	// LockNone issues the statement without a locking clause.
	LockNone LockMode = iota
	// LockShare is SELECT ... FOR SHARE.
	LockShare
	// LockUpdate is SELECT ... FOR UPDATE.
	LockUpdate
)

func (m LockMode) String() string {
	switch m {
	case LockShare:
		return "FOR SHARE"
	case LockUpdate:
		return "FOR UPDATE"
	default:
		return "NONE"
	}
}

// Dataset owns the shared table.
type Dataset interface {
	// Connect opens a fresh connection that is not shared with any other caller.
	Connect(ctx context.Context) (Conn, error)
	// Reset drops and recreates the table with the canonical rows.
	Reset(ctx context.Context) error
	// Lookup returns the committed row with the given id.
	Lookup(ctx context.Context, id int64) (row.Row, error)
	// Rows returns every committed row, ordered by id.
	Rows(ctx context.Context) ([]row.Row, error)
	Close() error
}

// Conn is one live connection.
type Conn interface {
	// Begin starts an explicit transaction at the given level.
	Begin(ctx context.Context, level isolation.Level) (Tx, error)
	Close() error
}

// Tx is an explicit transaction on a Conn. The engine enforces the
// isolation level; Tx only issues statements.
type Tx interface {
	Lock(ctx context.Context, id int64, mode LockMode) error
	Get(ctx context.Context, id int64) (row.Row, error)
	SetName(ctx context.Context, id int64, name string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
