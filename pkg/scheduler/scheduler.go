// Package scheduler replays a schedule across two sessions in the exact order
// it lists, one statement at a time. It never locks or retries on its own;
// whatever isolation the run shows comes from the engine underneath.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"isolab/pkg/dataset"
	"isolab/pkg/history"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/schedule"
	"isolab/pkg/session"
	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Scheduler owns two sessions, T1 and T2, and drives them through schedules.
type Scheduler struct {
	sessions [2]*session.Session
	level    isolation.Level
	lib      *schedule.Library
	out      io.Writer
	logger   *log.Logger
	recorder *history.Recorder
	closed   bool
	mtx      sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLibrary sets the schedules Execute can run. Defaults to the canonical catalog.
func WithLibrary(lib *schedule.Library) Option {
	return func(s *Scheduler) { s.lib = lib }
}

// WithOutput sets where executed steps and failures are reported.
func WithOutput(w io.Writer) Option {
	return func(s *Scheduler) { s.out = w }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRecorder appends every run to a history trace.
func WithRecorder(r *history.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// New opens two connections on ds and wraps each in a session at
// READ COMMITTED.
func New(ctx context.Context, ds dataset.Dataset, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		level:  isolation.Default,
		out:    io.Discard,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lib == nil {
		s.lib = schedule.Canonical()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	var conns [2]dataset.Conn
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		i := i
		g.Go(func() error {
			conn, err := ds.Connect(gctx)
			if err != nil {
				return txerr.Wrap(txerr.KindDatabase, fmt.Sprintf("T%d connect", i+1), err)
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				_ = conn.Close()
			}
		}
		return nil, err
	}
	for i, conn := range conns {
		s.sessions[i] = session.New(i+1, conn,
			session.WithOutput(s.out),
			session.WithLogger(s.logger),
		)
	}
	return s, nil
}

// Level returns the isolation level both sessions run at.
func (s *Scheduler) Level() isolation.Level {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.level
}

func (s *Scheduler) Library() *schedule.Library {
	return s.lib
}

// Session returns T1 (n = 1) or T2 (n = 2).
func (s *Scheduler) Session(n int) (*session.Session, error) {
	if n != 1 && n != 2 {
		return nil, txerr.Newf(txerr.KindConfiguration, "session", "no session T%d", n)
	}
	return s.sessions[n-1], nil
}

// SetIsolationLevel applies level to both sessions. Row locking is turned on
// exactly when the level asks for it.
func (s *Scheduler) SetIsolationLevel(level isolation.Level) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return txerr.New(txerr.KindConfiguration, "set isolation level", "scheduler closed")
	}
	for _, sess := range s.sessions {
		if err := sess.SetIsolationLevel(level); err != nil {
			return err
		}
		if err := sess.SetRowLocking(level.RequiresRowLocks()); err != nil {
			return err
		}
	}
	s.level = level
	return nil
}

// Step is one executed operation. Row is the row a read observed; it is
// zero for writes and commits.
type Step struct {
	Op  schedule.Op
	Row row.Row
}

func (st Step) String() string {
	switch st.Op.Kind {
	case schedule.OpRead:
		return fmt.Sprintf("T%d reads: name=%s, value=%d", st.Op.Session, st.Row.Name, st.Row.Value)
	case schedule.OpWrite:
		return fmt.Sprintf("T%d writes: %s", st.Op.Session, st.Op.Name)
	default:
		return fmt.Sprintf("T%d commits", st.Op.Session)
	}
}

// Result is what a run got through before it finished or failed.
type Result struct {
	Schedule string
	Level    isolation.Level
	Steps    []Step
}

// Reads returns the rows session n read, in order.
func (r *Result) Reads(n int) []row.Row {
	var rows []row.Row
	for _, st := range r.Steps {
		if st.Op.Kind == schedule.OpRead && st.Op.Session == n {
			rows = append(rows, st.Row)
		}
	}
	return rows
}

// Committed reports whether session n's commit went through.
func (r *Result) Committed(n int) bool {
	for _, st := range r.Steps {
		if st.Op.Kind == schedule.OpCommit && st.Op.Session == n {
			return true
		}
	}
	return false
}

// Execute replays the schedule called name. On the first failing step both
// sessions are rolled back and the error is returned with the schedule and
// level attached; the partial result is returned alongside it.
func (s *Scheduler) Execute(ctx context.Context, name string) (*Result, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return nil, txerr.New(txerr.KindConfiguration, "execute "+name, "scheduler closed")
	}
	sched, err := s.lib.Lookup(name)
	if err != nil {
		return nil, err
	}
	for _, sess := range s.sessions {
		if sess.InTransaction() {
			return nil, txerr.Newf(txerr.KindConfiguration, "execute "+name,
				"%s has an open transaction", sess.Name())
		}
	}

	res := &Result{Schedule: sched.Name, Level: s.level}
	s.record(func(r *history.Recorder) error {
		_, err := r.Start(sched.Name, s.level.String())
		return err
	})
	for _, op := range sched.Ops {
		st, err := s.apply(ctx, op)
		if err != nil {
			s.rollback(ctx)
			fmt.Fprintln(s.out, "Transactions rolled back")
			fmt.Fprintf(s.out, "Error executing schedule %s (%s): %v\n", sched.Name, s.level, err)
			err = errors.Wrapf(err, "schedule %s (%s)", sched.Name, s.level)
			s.record(func(r *history.Recorder) error { return r.End(err) })
			return res, err
		}
		res.Steps = append(res.Steps, st)
	}
	s.record(func(r *history.Recorder) error { return r.End(nil) })
	return res, nil
}

// apply runs one op on its session and records it.
func (s *Scheduler) apply(ctx context.Context, op schedule.Op) (Step, error) {
	sess := s.sessions[op.Session-1]
	st := Step{Op: op}
	switch op.Kind {
	case schedule.OpRead:
		r, err := sess.Read(ctx, op.Row)
		if err != nil {
			return st, err
		}
		st.Row = r
		s.record(func(rec *history.Recorder) error { return rec.Read(op.Session, r) })
	case schedule.OpWrite:
		if err := sess.Write(ctx, op.Row, op.Name); err != nil {
			return st, err
		}
		s.record(func(rec *history.Recorder) error { return rec.Write(op.Session, op.Row, op.Name) })
	case schedule.OpCommit:
		if err := sess.Commit(ctx); err != nil {
			return st, err
		}
		s.record(func(rec *history.Recorder) error { return rec.Commit(op.Session) })
	default:
		return st, txerr.Newf(txerr.KindConfiguration, "execute", "unknown operation %d", op.Kind)
	}
	return st, nil
}

// record writes to the history trace, if any. Trace failures never fail a run.
func (s *Scheduler) record(write func(*history.Recorder) error) {
	if s.recorder == nil {
		return
	}
	if err := write(s.recorder); err != nil {
		s.logger.Printf("history: %v", err)
	}
}

func (s *Scheduler) rollback(ctx context.Context) {
	for _, sess := range s.sessions {
		sess.Rollback(ctx)
	}
}

// Rollback abandons any open transaction on either session.
func (s *Scheduler) Rollback(ctx context.Context) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.rollback(ctx)
}

// Close closes both sessions. Closing twice is a no-op.
func (s *Scheduler) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs error
	for _, sess := range s.sessions {
		if err := sess.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
