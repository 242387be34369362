package history_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"isolab/pkg/history"
	"isolab/pkg/row"
	"isolab/pkg/txerr"
)

func setupRecorder(t *testing.T) *history.Recorder {
	path := filepath.Join(t.TempDir(), "trace", "isolab.trace")
	r, err := history.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHistory(t *testing.T) {
	t.Run("Empty", testHistoryEmpty)
	t.Run("LastRun", testHistoryLastRun)
	t.Run("FailedRun", testHistoryFailedRun)
	t.Run("UnfinishedRun", testHistoryUnfinishedRun)
	t.Run("Rotate", testHistoryRotate)
}

func testHistoryEmpty(t *testing.T) {
	r := setupRecorder(t)
	run, err := history.LastRun(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("expected no run, got %+v", run)
	}
}

func testHistoryLastRun(t *testing.T) {
	r := setupRecorder(t)
	if _, err := r.Start("S2", "READ COMMITTED"); err != nil {
		t.Fatal(err)
	}
	_ = r.Read(1, row.New(1, "Item A", 100))
	_ = r.End(nil)

	id, err := r.Start("S1", "REPEATABLE READ")
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Read(1, row.New(1, "Item A", 100))
	_ = r.Write(2, 1, "Updated by T2")
	_ = r.Commit(2)
	_ = r.End(nil)

	run, err := history.LastRun(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.ID != id {
		t.Fatalf("expected run %v, got %+v", id, run)
	}
	if run.Schedule != "S1" || run.Level != "REPEATABLE READ" || run.Outcome != "ok" {
		t.Errorf("unexpected run header %+v", run)
	}
	want := []string{
		"T1 reads: name=Item A, value=100",
		"T2 writes: Updated by T2",
		"T2 commits",
	}
	if len(run.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(run.Steps))
	}
	for i, s := range run.Steps {
		if s.String() != want[i] {
			t.Errorf("step %d: %q, want %q", i, s.String(), want[i])
		}
	}
}

func testHistoryFailedRun(t *testing.T) {
	r := setupRecorder(t)
	_, _ = r.Start("S3", "SERIALIZABLE")
	_ = r.End(txerr.New(txerr.KindSerialization, "T2 write 1", "could not serialize access"))
	run, err := history.LastRun(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if run.Outcome != "serialization: T2 write 1: could not serialize access" {
		t.Errorf("unexpected outcome %q", run.Outcome)
	}
}

func testHistoryUnfinishedRun(t *testing.T) {
	r := setupRecorder(t)
	_, _ = r.Start("S1", "SERIALIZABLE")
	_ = r.Read(1, row.New(1, "Item A", 100))
	run, err := history.LastRun(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if run.Outcome != "" || len(run.Steps) != 1 {
		t.Errorf("unexpected unfinished run %+v", run)
	}
}

func testHistoryRotate(t *testing.T) {
	r := setupRecorder(t)
	_, _ = r.Start("S1", "READ COMMITTED")
	_ = r.End(nil)
	if err := history.Rotate(r.Path()); err != nil {
		t.Fatal(err)
	}
	if run, err := history.LastRun(r.Path()); err != nil || run != nil {
		t.Errorf("expected an empty trace after rotation, got %+v, %v", run, err)
	}
	prev, err := history.LastRun(r.Path() + ".prev")
	if err != nil || prev == nil || prev.Schedule != "S1" {
		t.Errorf("previous trace lost: %+v, %v", prev, err)
	}
	if err := history.Rotate(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("rotating a missing trace: %v", err)
	}
	if _, err := os.Stat(r.Path()); errors.Is(err, os.ErrNotExist) {
		t.Error("rotation removed the trace file")
	}
}
