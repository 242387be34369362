package postgres_test

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"isolab/pkg/demo"
	"isolab/pkg/isolation"
	"isolab/pkg/postgres"
	"isolab/pkg/row"
	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
)

// Set to a disposable database to run these tests.
const DSN_ENV = "ISOLAB_TEST_DSN"

func setupDataset(t *testing.T) *postgres.Dataset {
	dsn := os.Getenv(DSN_ENV)
	if dsn == "" {
		t.Skipf("%s not set", DSN_ENV)
	}
	ctx := context.Background()
	ds, err := postgres.Open(ctx, dsn,
		postgres.WithStatementTimeout(500*time.Millisecond),
		postgres.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	if err := ds.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestPostgres(t *testing.T) {
	t.Run("ResetIdempotent", testPostgresResetIdempotent)
	t.Run("ConcurrentUpdate", testPostgresConcurrentUpdate)
	t.Run("StatementTimeout", testPostgresStatementTimeout)
	t.Run("Demo", testPostgresDemo)
}

func testPostgresResetIdempotent(t *testing.T) {
	ds := setupDataset(t)
	ctx := context.Background()
	first, err := ds.Rows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := ds.Rows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if row.Fingerprint(first) != row.Fingerprint(second) || row.Fingerprint(first) != row.Fingerprint(row.Canonical()) {
		t.Errorf("reset is not idempotent: %v then %v", first, second)
	}
}

func testPostgresConcurrentUpdate(t *testing.T) {
	ds := setupDataset(t)
	ctx := context.Background()
	c1, err := ds.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := ds.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	t1, err := c1.Begin(ctx, isolation.RepeatableRead)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := t1.Get(ctx, 1); err != nil {
		t.Fatal(err)
	}
	t2, err := c2.Begin(ctx, isolation.RepeatableRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := t2.SetName(ctx, 1, "Updated by T2"); err != nil {
		t.Fatal(err)
	}
	if err := t2.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	err = t1.SetName(ctx, 1, "Updated by T1")
	if !errors.Is(err, txerr.ErrSerialization) {
		t.Errorf("expected a serialization failure, got %v", err)
	}
	_ = t1.Rollback(ctx)
}

func testPostgresStatementTimeout(t *testing.T) {
	ds := setupDataset(t)
	ctx := context.Background()
	c1, _ := ds.Connect(ctx)
	defer c1.Close()
	c2, _ := ds.Connect(ctx)
	defer c2.Close()
	t1, err := c1.Begin(ctx, isolation.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	defer t1.Rollback(ctx)
	if err := t1.SetName(ctx, 1, "held"); err != nil {
		t.Fatal(err)
	}
	t2, err := c2.Begin(ctx, isolation.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	defer t2.Rollback(ctx)
	if err := t2.SetName(ctx, 1, "blocked"); !errors.Is(err, txerr.ErrCancellation) {
		t.Errorf("expected a cancellation, got %v", err)
	}
}

// Every schedule at every level must commit or end in an expected failure,
// and leave the table canonical once reset.
func testPostgresDemo(t *testing.T) {
	ds := setupDataset(t)
	report, err := demo.Run(context.Background(), ds, demo.Options{
		Logger: log.New(io.Discard, "", 0),
	}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range report.Outcomes {
		if o.Err != nil && !txerr.Expected(o.Err) {
			t.Errorf("%s at %s: %v", o.Schedule, o.Level, o.Err)
		}
	}
	s1, _ := report.Lookup(isolation.ReadCommitted, "S1")
	if s1.Err != nil || s1.Rows[0].Name != "Updated by T1" {
		t.Errorf("S1 at READ COMMITTED: %+v", s1)
	}
	rows, err := ds.Rows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if row.Fingerprint(rows) != row.Fingerprint(row.Canonical()) {
		t.Error("table not canonical after the demo")
	}
}
