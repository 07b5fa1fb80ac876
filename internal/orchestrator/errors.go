package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure.
type Kind int

const (
	// KindConnection - the destination could not be reached; nothing was
	// created, so no cleanup is attempted
	KindConnection Kind = iota + 1
	// KindPrepare - the stale destination left by an earlier run could not
	// be dropped; nothing has been exported yet
	KindPrepare
	// KindExport - the dump tool failed, on the source or during re-export
	KindExport
	// KindImport - the restore tool failed
	KindImport
	// KindEmptyResult - the destination held no collections after import
	KindEmptyResult
	// KindScrub - enumerating, dropping indexes, reading or writing failed
	KindScrub
	// KindCleanup - dropping the destination or closing the connection failed
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection failure"
	case KindPrepare:
		return "preparation failure"
	case KindExport:
		return "export failure"
	case KindImport:
		return "import failure"
	case KindEmptyResult:
		return "empty result"
	case KindScrub:
		return "scrub failure"
	case KindCleanup:
		return "cleanup failure"
	default:
		return "unknown failure"
	}
}

// ErrEmptyResult is the cause of a KindEmptyResult failure.
var ErrEmptyResult = errors.New("no collections found in destination after import")

// Error is a classified run failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Describe returns the failure kind, for the exit log line.
func (e *Error) Describe() string { return e.Kind.String() }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
