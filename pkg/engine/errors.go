package engine

import (
	"context"

	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
)

var (
	ErrConcurrentUpdate = errors.New("could not serialize access due to concurrent update")
	ErrReadWriteDeps    = errors.New("could not serialize access due to read/write dependencies among transactions")
	ErrDeadlock         = errors.New("deadlock detected")
	ErrLockTimeout      = errors.New("canceling statement due to lock timeout")
	ErrTxDone           = errors.New("transaction has already been committed or rolled back")
	ErrTxAborted        = errors.New("current transaction is aborted, commands ignored until end of transaction block")
	ErrTxInProgress     = errors.New("transaction already began")
	ErrConnClosed       = errors.New("connection already closed")
	ErrNameTooLong      = errors.New("value too long for type character varying(50)")
	ErrOpenTransactions = errors.New("table is in use by open transactions")
	ErrEngineClosed     = errors.New("engine closed")
)

// classify tags an engine error with its txerr kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConcurrentUpdate), errors.Is(err, ErrReadWriteDeps), errors.Is(err, ErrDeadlock):
		return txerr.Wrap(txerr.KindSerialization, "", err)
	case errors.Is(err, context.DeadlineExceeded):
		return txerr.Wrap(txerr.KindCancellation, "", ErrLockTimeout)
	case errors.Is(err, context.Canceled):
		return txerr.Wrap(txerr.KindCancellation, "", errors.Wrap(err, "canceling statement due to user request"))
	default:
		return txerr.Wrap(txerr.KindDatabase, "", err)
	}
}
