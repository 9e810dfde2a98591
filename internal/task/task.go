// Package task renders the C-ABI task-struct calling convention described
// for the core in Go terms: one struct per call carrying the database
// handle, an optional transaction, an optional arena, an options bitset,
// parallel input slices with independent strides, and a single error slot
// set at most once.
//
// Every exported operation in graph, document, and gather is a plain Go
// function returning (result, error); Task[T] is the thin adapter layer
// cmd/mosaic and any future wire-protocol front end build on, so a
// caller that wants the task-struct shape instead of idiomatic Go can get
// it without the core packages themselves paying for it.
package task

import (
	"github.com/mosaicdb/mosaic/internal/arena"
	"github.com/mosaicdb/mosaic/internal/kvstore"
)

// Task is the generic task struct. T is the element type of the
// operation's primary input array (e.g. kvstore.Key for a vertex removal,
// or a row struct for an ingest). Fields mirror the task-struct surface
// verbatim: db/transaction/arena are the shared-resource trio, Options is
// the bitset forwarded to every KV call the operation issues, and Err is
// set exactly once, by the first failure, after which the call must do no
// further work.
type Task[T any] struct {
	DB      kvstore.DB
	Txn     kvstore.Txn // nil means autocommit: the operation opens and commits its own transaction.
	Arena   *arena.Arena
	Options kvstore.Options

	// Items holds the per-task-element input. Count, derived from Items and
	// Stride, is the logical length every other strided column of the task
	// is read to; those columns may be shorter (broadcast).
	Items  []T
	Stride int // 0 means broadcast: every logical index reads Items[0].

	Err error
}

// Count reports the logical number of elements this task addresses.
func (t *Task[T]) Count() int {
	if t.Stride == 0 {
		return len(t.Items)
	}
	return len(t.Items) / t.Stride
}

// At returns the i'th logical element, honoring Stride. A zero Stride
// broadcasts element 0 to every logical index; Stride == 1 is the
// unstrided common case.
func (t *Task[T]) At(i int) T {
	if t.Stride == 0 {
		return t.Items[0]
	}
	return t.Items[i*t.Stride]
}

// Fail records err in Err if no earlier failure has already been
// recorded, then reports whether the task is now in a failed state. Per
// the propagation policy, once Err is set the caller must skip any
// remaining work in the call.
func (t *Task[T]) Fail(err error) bool {
	if t.Err == nil && err != nil {
		t.Err = err
	}
	return t.Err != nil
}

// Failed reports whether an earlier step already set Err.
func (t *Task[T]) Failed() bool {
	return t.Err != nil
}

// Broadcast builds a strided view over a single value, equivalent to a
// caller-supplied array of length 1 with Stride 0.
func Broadcast[T any](v T) (items []T, stride int) {
	return []T{v}, 0
}

// Strided builds the common Stride == 1 view over a fully-populated slice.
func Strided[T any](items []T) (stride int) {
	if len(items) <= 1 {
		return 0
	}
	return 1
}

// ValidateOptions applies the same options-sanity check the KV substrate
// contract requires before any call is issued: WRITE_FLUSH only makes
// sense on a write, TRANSACTION_DONT_WATCH only inside a transaction.
func ValidateOptions(opts kvstore.Options, isWrite, inTransaction bool) error {
	return opts.Validate(isWrite, inTransaction)
}

// EnsureArena returns t.Arena if non-nil, otherwise a freshly allocated
// one sized for slabSize; the bool result reports whether the caller owns
// the returned arena and so must Release it when the call returns (a
// borrowed arena is never released by the borrower).
func EnsureArena[T any](t *Task[T], slabSize int) (a *arena.Arena, owned bool) {
	if t.Arena != nil {
		return t.Arena, false
	}
	return arena.New(slabSize), true
}
