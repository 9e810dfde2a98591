// Package kvstore defines the ordered transactional key-value contract that
// the rest of the core treats as an external collaborator (spec.md §6), and
// ships one in-memory implementation of it (MemDB) so the core has a
// concrete engine to run against in tests. Durability, replication, and
// snapshot isolation beyond what MemDB offers are explicitly not goals of
// this package — those live in whatever real engine a deployment wires in.
package kvstore

import (
	"context"
	"fmt"
)

// Key addresses one entry within a Collection. KeyUnknown is reserved and
// never denotes a real entry.
type Key int64

// KeyUnknown is the reserved sentinel key.
const KeyUnknown Key = -1 << 63

// Collection is an opaque handle. MainCollection is always valid; other
// collections are created on demand via DB.CreateCollection.
type Collection uint32

// MainCollection is the default collection every deployment exposes.
const MainCollection Collection = 0

// Options is the bitset every read/write/transaction call carries.
type Options uint32

const (
	// OptDefault performs no special handling.
	OptDefault Options = 0
	// OptWriteFlush forces the write to be durable before returning.
	// Invalid on a read.
	OptWriteFlush Options = 1 << iota
	// OptTransactionDontWatch disables conflict tracking for the reads in
	// this call. Invalid outside a transaction.
	OptTransactionDontWatch
	// OptDontDiscardMemory hints the engine to retain working buffers
	// across calls instead of returning them to the OS.
	OptDontDiscardMemory
)

// Validate rejects option combinations that are illegal for the given call
// shape, before any KV call is issued, per spec.md §6.
func (o Options) Validate(isWrite, inTransaction bool) error {
	if o&OptWriteFlush != 0 && !isWrite {
		return fmt.Errorf("%w: WRITE_FLUSH is only valid on a write", ErrInvalidArgument)
	}
	if o&OptTransactionDontWatch != 0 && !inTransaction {
		return fmt.Errorf("%w: TRANSACTION_DONT_WATCH is only valid inside a transaction", ErrInvalidArgument)
	}
	return nil
}

// Ref names one (collection, key) pair — the atom the working set and the
// read/write batches are built from.
type Ref struct {
	Collection Collection
	Key        Key
}

// Entry is one fetched value. Present distinguishes a missing value from
// an empty one.
type Entry struct {
	Ref
	Value   []byte
	Present bool
}

// WriteItem is one entry to write. A nil Value with Present=false deletes
// the key; Present=true with an empty Value writes a zero-length value,
// which is distinct from deletion.
type WriteItem struct {
	Ref
	Value   []byte
	Present bool
}

// Txn is a batched-operation handle. Operations accumulate against it and
// become visible to others only at Commit, which is all-or-nothing against
// the consistent snapshot the Txn was opened on.
type Txn interface {
	// Read fetches entries for the given refs. watch, if true, enrolls
	// every ref in this txn's conflict-detection set.
	Read(ctx context.Context, refs []Ref, watch bool) ([]Entry, error)
	// Write stages writes; they are not visible to any reader (including
	// this Txn, aside from the read-your-writes view in Read) until Commit.
	Write(ctx context.Context, items []WriteItem, opts Options) error
	// Commit applies every staged write atomically. Returns an error
	// wrapping ErrConflict if a watched ref was modified by another
	// committed Txn since this Txn's snapshot was taken.
	Commit(ctx context.Context) error
	// Reset discards staged writes and the watch set, rebasing the Txn
	// onto a fresh snapshot so it can be reused.
	Reset(ctx context.Context) error
}

// SnapshotID names a droppable, referable point-in-time view.
type SnapshotID uint64

// DB is the substrate contract consumed by the core.
type DB interface {
	// Collections.
	CreateCollection(ctx context.Context, name string) (Collection, error)
	DropCollection(ctx context.Context, col Collection) error
	ListCollections(ctx context.Context) (names []string, ids []Collection, err error)
	ContainsCollection(ctx context.Context, name string) (bool, error)

	// Read fetches entries outside of any transaction (autocommit read),
	// optionally pinned to a snapshot.
	Read(ctx context.Context, refs []Ref, snap *SnapshotID, opts Options) ([]Entry, error)
	// Write applies a batch of writes as one autocommit unit.
	Write(ctx context.Context, items []WriteItem, opts Options) error
	// Scan walks col starting at each startKeys[i], returning up to
	// limits[i] keys per start key, in ascending key order.
	Scan(ctx context.Context, col Collection, startKeys []Key, limits []int, snap *SnapshotID) (counts []int, keys []Key, err error)

	// Transactions.
	BeginTxn(ctx context.Context) (Txn, error)

	// Snapshots.
	CreateSnapshot(ctx context.Context) (SnapshotID, error)
	ExportSnapshot(ctx context.Context, id SnapshotID) (DB, error)
	DropSnapshot(ctx context.Context, id SnapshotID) error
	ListSnapshots(ctx context.Context) ([]SnapshotID, error)

	// Close releases any resources held by the engine.
	Close(ctx context.Context) error
}
