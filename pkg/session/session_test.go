package session_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"isolab/pkg/engine"
	"isolab/pkg/isolation"
	"isolab/pkg/session"
	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
)

var quiet = log.New(io.Discard, "", 0)

func setupSessions(t *testing.T, level isolation.Level) (*engine.Engine, *session.Session, *session.Session, *bytes.Buffer) {
	e := engine.New(engine.WithLockTimeout(50*time.Millisecond), engine.WithLogger(quiet))
	t.Cleanup(func() { _ = e.Close() })
	out := &bytes.Buffer{}
	sessions := make([]*session.Session, 2)
	for i := range sessions {
		conn, err := e.Connect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		s := session.New(i+1, conn, session.WithOutput(out), session.WithLogger(quiet))
		if err := s.SetIsolationLevel(level); err != nil {
			t.Fatal(err)
		}
		if err := s.SetRowLocking(level.RequiresRowLocks()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		sessions[i] = s
	}
	return e, sessions[0], sessions[1], out
}

func TestSession(t *testing.T) {
	t.Run("ImplicitBegin", testSessionImplicitBegin)
	t.Run("Reporting", testSessionReporting)
	t.Run("LevelChangeMidTransaction", testSessionLevelChangeMidTransaction)
	t.Run("InvalidLevel", testSessionInvalidLevel)
	t.Run("CommitFailureEndsTransaction", testSessionCommitFailureEndsTransaction)
	t.Run("RollbackIsBestEffort", testSessionRollbackIsBestEffort)
	t.Run("CloseIdempotent", testSessionCloseIdempotent)
	t.Run("SerializableLocksRows", testSessionSerializableLocksRows)
}

func testSessionImplicitBegin(t *testing.T) {
	e, s1, _, _ := setupSessions(t, isolation.ReadCommitted)
	if s1.InTransaction() {
		t.Fatal("fresh session has a transaction")
	}
	if _, err := s1.Read(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if !s1.InTransaction() || e.OpenTransactions() != 1 {
		t.Fatal("first statement did not open a transaction")
	}
	if err := s1.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s1.InTransaction() || e.OpenTransactions() != 0 {
		t.Error("commit left a transaction open")
	}
}

func testSessionReporting(t *testing.T) {
	_, s1, s2, out := setupSessions(t, isolation.ReadCommitted)
	ctx := context.Background()
	if _, err := s1.Read(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s2.Write(ctx, 1, "Updated by T2"); err != nil {
		t.Fatal(err)
	}
	if err := s2.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	want := "T1 reads: name=Item A, value=100\nT2 writes: Updated by T2\nT2 commits\n"
	if out.String() != want {
		t.Errorf("unexpected report:\n%s", out.String())
	}
}

func testSessionLevelChangeMidTransaction(t *testing.T) {
	_, s1, _, _ := setupSessions(t, isolation.ReadCommitted)
	ctx := context.Background()
	if _, err := s1.Read(ctx, 1); err != nil {
		t.Fatal(err)
	}
	err := s1.SetIsolationLevel(isolation.Serializable)
	if !errors.Is(err, txerr.ErrConfiguration) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
	if s1.Level() != isolation.ReadCommitted {
		t.Error("level changed despite the error")
	}
	s1.Rollback(ctx)
	if err := s1.SetIsolationLevel(isolation.Serializable); err != nil {
		t.Errorf("level change after rollback: %v", err)
	}
}

func testSessionInvalidLevel(t *testing.T) {
	_, s1, _, _ := setupSessions(t, isolation.ReadCommitted)
	if err := s1.SetIsolationLevel(isolation.Level(42)); !errors.Is(err, txerr.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func testSessionCommitFailureEndsTransaction(t *testing.T) {
	e, s1, s2, _ := setupSessions(t, isolation.Serializable)
	ctx := context.Background()
	// Classic write skew: each reads one row and writes the other.
	mustRead(t, s1, 1)
	mustRead(t, s2, 2)
	if err := s1.Write(ctx, 2, "T1"); err != nil {
		t.Fatal(err)
	}
	if err := s2.Write(ctx, 1, "T2"); err != nil {
		t.Fatal(err)
	}
	err := s1.Commit(ctx)
	if !errors.Is(err, txerr.ErrSerialization) {
		t.Fatalf("expected a serialization failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "T1 commit") {
		t.Errorf("error lacks operation context: %v", err)
	}
	if s1.InTransaction() {
		t.Error("failed commit left the session in a transaction")
	}
	if err := s2.Commit(ctx); err != nil {
		t.Fatalf("T2 should commit once T1 is gone: %v", err)
	}
	if e.OpenTransactions() != 0 {
		t.Error("transactions left open")
	}
}

func testSessionRollbackIsBestEffort(t *testing.T) {
	e, s1, _, _ := setupSessions(t, isolation.ReadCommitted)
	ctx := context.Background()
	s1.Rollback(ctx) // nothing open
	if err := s1.Write(ctx, 1, "gone"); err != nil {
		t.Fatal(err)
	}
	s1.Rollback(ctx)
	r, _ := e.Lookup(ctx, 1)
	if r.Name != "Item A" {
		t.Errorf("rollback kept the write: %q", r.Name)
	}
}

func testSessionCloseIdempotent(t *testing.T) {
	e, s1, _, _ := setupSessions(t, isolation.ReadCommitted)
	ctx := context.Background()
	mustRead(t, s1, 1)
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if e.OpenTransactions() != 0 {
		t.Error("close left a transaction open")
	}
	if _, err := s1.Read(ctx, 1); !errors.Is(err, txerr.ErrConfiguration) {
		t.Errorf("expected a configuration error after close, got %v", err)
	}
}

func testSessionSerializableLocksRows(t *testing.T) {
	_, s1, s2, _ := setupSessions(t, isolation.Serializable)
	ctx := context.Background()
	if !s1.RowLocking() {
		t.Fatal("row locking not enabled under SERIALIZABLE")
	}
	if err := s1.Write(ctx, 1, "held"); err != nil {
		t.Fatal(err)
	}
	err := s2.Write(ctx, 1, "blocked")
	if !errors.Is(err, txerr.ErrCancellation) {
		t.Errorf("expected the FOR UPDATE wait to be cancelled, got %v", err)
	}
}

func mustRead(t *testing.T, s *session.Session, id int64) {
	if _, err := s.Read(context.Background(), id); err != nil {
		t.Fatal(err)
	}
}
