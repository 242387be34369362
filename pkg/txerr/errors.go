// Package txerr classifies the failures a schedule run can end with, so that
// callers can tell an expected isolation outcome (a serialization failure or
// a cancelled lock wait) from a real error without looking at messages.
package txerr

import (
	"github.com/cockroachdb/errors"
)

// Kind tags an error with its place in the taxonomy.
type Kind int

const (
	// KindDatabase is any engine failure that has no more specific kind.
	KindDatabase Kind = iota
	// KindConfiguration is a programmer error, such as changing the
	// isolation level of a session with an open transaction.
	KindConfiguration
	// KindSerialization is an engine-detected conflict (write skew,
	// concurrent update, deadlock). Expected under strong isolation.
	KindSerialization
	// KindCancellation is a statement that exceeded its wait bound.
	KindCancellation
	// KindUnknownSchedule is a request for a schedule outside the catalog.
	KindUnknownSchedule
)

// Sentinels matched by errors.Is for each kind.
var (
	ErrDatabase        = errors.New("database error")
	ErrConfiguration   = errors.New("configuration error")
	ErrSerialization   = errors.New("serialization failure")
	ErrCancellation    = errors.New("statement cancelled")
	ErrUnknownSchedule = errors.New("unknown schedule")
)

var kindNames = map[Kind]string{
	KindDatabase:        "database",
	KindConfiguration:   "configuration",
	KindSerialization:   "serialization",
	KindCancellation:    "cancellation",
	KindUnknownSchedule: "unknown schedule",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindSerialization:
		return ErrSerialization
	case KindCancellation:
		return ErrCancellation
	case KindUnknownSchedule:
		return ErrUnknownSchedule
	default:
		return ErrDatabase
	}
}

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "T1 commit"
	Err  error  // the underlying cause
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New returns a classified error with a fresh message.
func New(kind Kind, op string, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf is New with formatting.
func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Newf(format, args...)}
}

// Wrap classifies err. An err that is already classified keeps its kind;
// only the operation context is added. Wrap(kind, op, nil) is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		if op == "" {
			return err
		}
		return errors.Wrap(err, op)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are KindDatabase.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindDatabase
}

// Expected reports whether err is an outcome a schedule is allowed to end
// with: a serialization failure or a cancelled wait.
func Expected(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindSerialization, KindCancellation:
		return true
	}
	return false
}
