package demo_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isolab/pkg/demo"
	"isolab/pkg/engine"
	"isolab/pkg/history"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
)

var quiet = log.New(io.Discard, "", 0)

func setupEngine(t *testing.T) *engine.Engine {
	e := engine.New(engine.WithLockTimeout(50*time.Millisecond), engine.WithLogger(quiet))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDemo(t *testing.T) {
	t.Run("FullMatrix", testDemoFullMatrix)
	t.Run("Output", testDemoOutput)
	t.Run("UnknownScheduleContinues", testDemoUnknownScheduleContinues)
	t.Run("Recorder", testDemoRecorder)
}

func testDemoFullMatrix(t *testing.T) {
	e := setupEngine(t)
	report, err := demo.Run(context.Background(), e, demo.Options{Logger: quiet}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outcomes) != 9 {
		t.Fatalf("expected 9 outcomes, got %d", len(report.Outcomes))
	}
	want := map[isolation.Level]map[string]string{
		isolation.ReadCommitted:  {"S1": "ok", "S2": "ok", "S3": "ok"},
		isolation.RepeatableRead: {"S1": "serialization", "S2": "ok", "S3": "serialization"},
		isolation.Serializable:   {"S1": "serialization", "S2": "ok", "S3": "serialization"},
	}
	for level, byName := range want {
		for name, kind := range byName {
			o, ok := report.Lookup(level, name)
			if !ok {
				t.Fatalf("no outcome for %s at %s", name, level)
			}
			if o.Kind() != kind {
				t.Errorf("%s at %s: %s, want %s (%v)", name, level, o.Kind(), kind, o.Err)
			}
		}
	}
	rows, _ := e.Rows(context.Background())
	if row.Fingerprint(rows) != row.Fingerprint(row.Canonical()) {
		t.Error("the table was not reset after the last schedule")
	}
	if e.OpenTransactions() != 0 {
		t.Error("transactions left open")
	}
}

func testDemoOutput(t *testing.T) {
	e := setupEngine(t)
	out := &bytes.Buffer{}
	_, err := demo.Run(context.Background(), e, demo.Options{
		Levels:    []isolation.Level{isolation.Serializable},
		Schedules: []string{"S1"},
		Logger:    quiet,
	}, out)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"=== Testing with SERIALIZABLE ===",
		"Executing Schedule S1:",
		"T1 reads: name=Item A, value=100",
		"T2 commits",
		"Transactions rolled back",
		"Schedule S1 aborted (serialization): ",
	} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("output lacks %q:\n%s", line, out.String())
		}
	}
}

func testDemoUnknownScheduleContinues(t *testing.T) {
	e := setupEngine(t)
	report, err := demo.Run(context.Background(), e, demo.Options{
		Levels:    []isolation.Level{isolation.ReadCommitted},
		Schedules: []string{"S4", "S2"},
		Logger:    quiet,
	}, io.Discard)
	if !errors.Is(err, txerr.ErrUnknownSchedule) {
		t.Errorf("expected the unknown schedule to be returned, got %v", err)
	}
	if o, ok := report.Lookup(isolation.ReadCommitted, "S2"); !ok || o.Err != nil {
		t.Errorf("S2 did not run after S4 failed: %+v", o)
	}
}

func testDemoRecorder(t *testing.T) {
	e := setupEngine(t)
	rec, err := history.Open(filepath.Join(t.TempDir(), "isolab.trace"))
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	_, err = demo.Run(context.Background(), e, demo.Options{
		Levels:   []isolation.Level{isolation.RepeatableRead},
		Recorder: rec,
		Logger:   quiet,
	}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	run, err := history.LastRun(rec.Path())
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.Schedule != "S3" || run.Level != "REPEATABLE READ" {
		t.Errorf("unexpected last run %+v", run)
	}
}
