package cvemart

import (
	"errors"
	"strings"
)

// Error is the cvemart error domain type.
//
// Errors coming from cvemart components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of cvemart components should create an Error at the system
// boundary (e.g. when using a database client or decoding a vector) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf] with a
// "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrMalformedVector,
		ErrDateParse,
		ErrReconciliation,
		ErrConflict,
		ErrTimeout,
		ErrTransient,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	// ErrMalformedVector reports a CVSS vector string that could not be
	// tokenized at all. Non-fatal: the measurement is kept with empty
	// decoded metrics.
	ErrMalformedVector = ErrorKind("malformed vector")
	// ErrDateParse reports an unparseable date string. Non-fatal: the
	// record proceeds with a null date and is flagged.
	ErrDateParse = ErrorKind("date parse")
	// ErrReconciliation reports that the reconciliation policy could not
	// produce a deterministic winner. Always a policy bug; fatal to the
	// record and never retried.
	ErrReconciliation = ErrorKind("reconciliation ambiguity")
	// ErrConflict reports a storage-layer uniqueness violation that the
	// upsert logic failed to prevent. Always a bug; fatal to the record
	// and never retried.
	ErrConflict = ErrorKind("upsert conflict")
	// ErrTimeout reports an unresponsive external dependency. Retried
	// with backoff up to a configured limit.
	ErrTimeout = ErrorKind("timeout")

	ErrTransient = ErrorKind("transient") // may succeed on retry
	ErrInternal  = ErrorKind("internal")  // non-specific internal error
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Retryable reports whether an error of this kind may be retried.
//
// Policy and programming errors are excluded: retrying a logic bug just
// repeats it.
func (e ErrorKind) Retryable() bool {
	switch e {
	case ErrTimeout, ErrTransient:
		return true
	}
	return false
}
