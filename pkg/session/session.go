// Package session wraps one database connection in explicit transactions.
// A transaction begins implicitly with the first statement after the
// previous commit or rollback and runs at the session's isolation level.
package session

import (
	"context"
	"fmt"
	"io"
	"log"

	"isolab/pkg/dataset"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/txerr"
)

// Session is one of the two transactional contexts a scheduler drives.
// It is not safe for concurrent use.
type Session struct {
	id       int
	conn     dataset.Conn
	tx       dataset.Tx
	level    isolation.Level
	lockRows bool
	closed   bool

	out    io.Writer
	logger *log.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithOutput sets where executed steps are reported.
func WithOutput(w io.Writer) Option {
	return func(s *Session) { s.out = w }
}

// WithLogger sets the logger for rollback and close failures.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New wraps conn as session id (1 or 2) at the default isolation level.
func New(id int, conn dataset.Conn, opts ...Option) *Session {
	s := &Session{
		id:     id,
		conn:   conn,
		level:  isolation.Default,
		out:    io.Discard,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() int {
	return s.id
}

// Name returns the transaction label used in reports, e.g. "T1".
func (s *Session) Name() string {
	return fmt.Sprintf("T%d", s.id)
}

func (s *Session) Level() isolation.Level {
	return s.level
}

// RowLocking reports whether reads and writes take explicit row locks.
func (s *Session) RowLocking() bool {
	return s.lockRows
}

// InTransaction reports whether a transaction is open on the session.
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// SetIsolationLevel sets the level of the next transaction. It must not be
// called while a transaction is open.
func (s *Session) SetIsolationLevel(level isolation.Level) error {
	op := s.Name() + " set isolation level"
	if !level.Valid() {
		return txerr.Newf(txerr.KindConfiguration, op, "invalid isolation level %d", int(level))
	}
	if err := s.idle(op); err != nil {
		return err
	}
	s.level = level
	return nil
}

// SetRowLocking turns the FOR SHARE / FOR UPDATE hints on or off. It must
// not be called while a transaction is open.
func (s *Session) SetRowLocking(on bool) error {
	if err := s.idle(s.Name() + " set row locking"); err != nil {
		return err
	}
	s.lockRows = on
	return nil
}

func (s *Session) idle(op string) error {
	if s.closed {
		return txerr.New(txerr.KindConfiguration, op, "session closed")
	}
	if s.tx != nil {
		return txerr.New(txerr.KindConfiguration, op, "transaction in progress")
	}
	return nil
}

// begin opens a transaction if none is open.
func (s *Session) begin(ctx context.Context, op string) error {
	if s.closed {
		return txerr.New(txerr.KindConfiguration, op, "session closed")
	}
	if s.tx != nil {
		return nil
	}
	tx, err := s.conn.Begin(ctx, s.level)
	if err != nil {
		return txerr.Wrap(txerr.KindDatabase, op, err)
	}
	s.tx = tx
	return nil
}

// Read returns the row visible to the session's transaction. With row
// locking on, the row is first locked FOR SHARE.
func (s *Session) Read(ctx context.Context, id int64) (row.Row, error) {
	op := fmt.Sprintf("%s read %d", s.Name(), id)
	if err := s.begin(ctx, op); err != nil {
		return row.Row{}, err
	}
	if s.lockRows {
		if err := s.tx.Lock(ctx, id, dataset.LockShare); err != nil {
			return row.Row{}, txerr.Wrap(txerr.KindDatabase, op, err)
		}
	}
	r, err := s.tx.Get(ctx, id)
	if err != nil {
		return row.Row{}, txerr.Wrap(txerr.KindDatabase, op, err)
	}
	fmt.Fprintf(s.out, "%s reads: name=%s, value=%d\n", s.Name(), r.Name, r.Value)
	return r, nil
}

// Write sets the name of a row. With row locking on, the row is first
// locked FOR UPDATE.
func (s *Session) Write(ctx context.Context, id int64, name string) error {
	op := fmt.Sprintf("%s write %d", s.Name(), id)
	if err := s.begin(ctx, op); err != nil {
		return err
	}
	if s.lockRows {
		if err := s.tx.Lock(ctx, id, dataset.LockUpdate); err != nil {
			return txerr.Wrap(txerr.KindDatabase, op, err)
		}
	}
	if err := s.tx.SetName(ctx, id, name); err != nil {
		return txerr.Wrap(txerr.KindDatabase, op, err)
	}
	fmt.Fprintf(s.out, "%s writes: %s\n", s.Name(), name)
	return nil
}

// Commit ends the open transaction. A commit without an open transaction
// commits an empty one, like COMMIT on an idle connection. The transaction
// is over afterwards even when the commit fails.
func (s *Session) Commit(ctx context.Context) error {
	op := s.Name() + " commit"
	if s.closed {
		return txerr.New(txerr.KindConfiguration, op, "session closed")
	}
	if s.tx != nil {
		tx := s.tx
		s.tx = nil
		if err := tx.Commit(ctx); err != nil {
			return txerr.Wrap(txerr.KindDatabase, op, err)
		}
	}
	fmt.Fprintf(s.out, "%s commits\n", s.Name())
	return nil
}

// Rollback abandons the open transaction, if any. Failures are logged,
// never returned.
func (s *Session) Rollback(ctx context.Context) {
	if s.tx == nil {
		return
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil {
		s.logger.Printf("%s: error during rollback: %v", s.Name(), err)
	}
}

// Close rolls back any open transaction and releases the connection.
// Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.Rollback(context.Background())
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return txerr.Wrap(txerr.KindDatabase, s.Name()+" close", err)
	}
	return nil
}
