package postgres

import (
	"context"
	"fmt"
	"testing"

	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want txerr.Kind
	}{
		{&pgconn.PgError{Code: codeSerializationFailure}, txerr.KindSerialization},
		{&pgconn.PgError{Code: codeDeadlockDetected}, txerr.KindSerialization},
		{&pgconn.PgError{Code: codeQueryCanceled}, txerr.KindCancellation},
		{&pgconn.PgError{Code: codeLockNotAvailable}, txerr.KindCancellation},
		{&pgconn.PgError{Code: "42P01"}, txerr.KindDatabase},
		{fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeSerializationFailure}), txerr.KindSerialization},
		{context.DeadlineExceeded, txerr.KindCancellation},
		{errors.New("connection refused"), txerr.KindDatabase},
	}
	for _, c := range cases {
		if got := txerr.KindOf(classify(c.err)); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
