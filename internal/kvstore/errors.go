package kvstore

import "errors"

// Kind is the error taxonomy exposed by every task-struct operation. Kinds
// are not Go types — every surfaced error wraps exactly one Kind sentinel
// via %w so callers can classify failures with errors.Is, the same pattern
// the teacher uses for storage.ErrDBNotInitialized.
type Kind = error

var (
	// ErrInvalidArgument covers a null required field, a zero tasks_count
	// with a non-null key array, an illegal field name, a missing id field,
	// an unsupported file extension, or an unsupported option flag.
	ErrInvalidArgument Kind = errors.New("invalid argument")

	// ErrUninitialized covers a missing database or arena where one is
	// required.
	ErrUninitialized Kind = errors.New("uninitialized")

	// ErrNotSupported covers operations an engine configuration does not
	// expose, e.g. named collections on a main-collection-only deployment.
	ErrNotSupported Kind = errors.New("not supported")

	// ErrIO covers underlying file or format-parser failures. Vendor
	// detail is preserved verbatim in the wrapped message.
	ErrIO Kind = errors.New("io error")

	// ErrConflict covers a transaction commit lost to a concurrent writer.
	// It is retriable.
	ErrConflict Kind = errors.New("conflict")

	// ErrOutOfMemory covers an arena allocation failure.
	ErrOutOfMemory Kind = errors.New("out of memory")

	// ErrInternal covers an invariant violation or unexpected substrate
	// response.
	ErrInternal Kind = errors.New("internal error")
)
