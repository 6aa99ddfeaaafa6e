// Package aff4errors defines the error taxonomy of the AFF4 library
// (see spec §7): callers switch on kind with errors.As, not on message
// text.
package aff4errors

import "fmt"

// IoError wraps a failed backing-file operation.
type IoError struct {
	Op    string
	Errno error
}

func (e *IoError) Error() string { return fmt.Sprintf("aff4: io error during %s: %v", e.Op, e.Errno) }
func (e *IoError) Unwrap() error { return e.Errno }

// ParseError reports a value that could not be decoded for its datatype.
type ParseError struct {
	Datatype string
	Bytes    []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("aff4: cannot parse %q as %s", e.Bytes, e.Datatype)
}

// InvalidFormat reports a malformed Zip signature, Zip64 extra field or
// manifest triple.
type InvalidFormat struct {
	Where string
}

func (e *InvalidFormat) Error() string { return fmt.Sprintf("aff4: invalid format: %s", e.Where) }

// NotFoundError reports resolving an unknown subject/predicate or URN.
type NotFoundError struct {
	URN       string
	Predicate string
}

func (e *NotFoundError) Error() string {
	if e.Predicate == "" {
		return fmt.Sprintf("aff4: not found: %s", e.URN)
	}
	return fmt.Sprintf("aff4: not found: %s %s", e.URN, e.Predicate)
}

// TypeMismatchError reports a resolve-into-typed-value refusal.
type TypeMismatchError struct {
	Expected, Got string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("aff4: type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// LockedError reports a lock held by another party when the caller
// requested non-blocking acquisition.
type LockedError struct {
	URN, LockName string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("aff4: %s locked by another holder (lock %q)", e.URN, e.LockName)
}

// CorruptError reports a CRC-32 mismatch or size inconsistency.
type CorruptError struct {
	URN    string
	Detail string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("aff4: corrupt stream %s: %s", e.URN, e.Detail)
}

// UnsupportedError reports a feature this implementation does not
// handle (multi-disk Zip, unknown compression method, ...).
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string { return fmt.Sprintf("aff4: unsupported: %s", e.Feature) }
