package kvstore_test

import (
	"context"
	"testing"

	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDB_ReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()

	err := db.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Collection: kvstore.MainCollection, Key: 1}, Value: []byte("a"), Present: true},
		{Ref: kvstore.Ref{Collection: kvstore.MainCollection, Key: 2}, Value: []byte{}, Present: true},
	}, kvstore.OptDefault)
	require.NoError(t, err)

	entries, err := db.Read(ctx, []kvstore.Ref{
		{Collection: kvstore.MainCollection, Key: 1},
		{Collection: kvstore.MainCollection, Key: 2},
		{Collection: kvstore.MainCollection, Key: 3},
	}, nil, kvstore.OptDefault)
	require.NoError(t, err)

	assert.True(t, entries[0].Present)
	assert.Equal(t, []byte("a"), entries[0].Value)

	assert.True(t, entries[1].Present)
	assert.Equal(t, []byte{}, entries[1].Value) // present-but-empty != missing

	assert.False(t, entries[2].Present)
}

func TestMemDB_ScanCompleteness(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()

	var items []kvstore.WriteItem
	for _, k := range []kvstore.Key{5, 1, 9, 3, 7} {
		items = append(items, kvstore.WriteItem{Ref: kvstore.Ref{Key: k}, Value: []byte("v"), Present: true})
	}
	require.NoError(t, db.Write(ctx, items, kvstore.OptDefault))

	counts, keys, err := db.Scan(ctx, kvstore.MainCollection, []kvstore.Key{0}, []int{100}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, counts)
	assert.Equal(t, []kvstore.Key{1, 3, 5, 7, 9}, keys)
}

func TestMemDB_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	require.NoError(t, db.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Key: 1}, Value: []byte("v1"), Present: true},
	}, kvstore.OptDefault))

	snap, err := db.CreateSnapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Key: 1}, Value: []byte("v2"), Present: true},
	}, kvstore.OptDefault))

	liveEntries, err := db.Read(ctx, []kvstore.Ref{{Key: 1}}, nil, kvstore.OptDefault)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), liveEntries[0].Value)

	snapEntries, err := db.Read(ctx, []kvstore.Ref{{Key: 1}}, &snap, kvstore.OptDefault)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), snapEntries[0].Value)
}

func TestMemDB_ConflictingTransactions(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	require.NoError(t, db.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Key: 42}, Value: []byte("base"), Present: true},
	}, kvstore.OptDefault))

	txnA, err := db.BeginTxn(ctx)
	require.NoError(t, err)
	txnB, err := db.BeginTxn(ctx)
	require.NoError(t, err)

	_, err = txnA.Read(ctx, []kvstore.Ref{{Key: 42}}, true)
	require.NoError(t, err)
	_, err = txnB.Read(ctx, []kvstore.Ref{{Key: 42}}, true)
	require.NoError(t, err)

	require.NoError(t, txnA.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Key: 42}, Value: []byte("from-a"), Present: true},
	}, kvstore.OptDefault))
	require.NoError(t, txnB.Write(ctx, []kvstore.WriteItem{
		{Ref: kvstore.Ref{Key: 42}, Value: []byte("from-b"), Present: true},
	}, kvstore.OptDefault))

	require.NoError(t, txnA.Commit(ctx))

	err = txnB.Commit(ctx)
	assert.ErrorIs(t, err, kvstore.ErrConflict)
}

func TestMemDB_NamedCollectionsNotSupported(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMainOnlyMemDB()
	_, err := db.CreateCollection(ctx, "secondary")
	assert.ErrorIs(t, err, kvstore.ErrNotSupported)
}

func TestOptions_ValidateRejectsIllegalCombinations(t *testing.T) {
	assert.ErrorIs(t, kvstore.OptWriteFlush.Validate(false, false), kvstore.ErrInvalidArgument)
	assert.ErrorIs(t, kvstore.OptTransactionDontWatch.Validate(true, false), kvstore.ErrInvalidArgument)
	assert.NoError(t, kvstore.OptWriteFlush.Validate(true, false))
	assert.NoError(t, kvstore.OptTransactionDontWatch.Validate(false, true))
}
