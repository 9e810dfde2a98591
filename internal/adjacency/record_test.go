package adjacency_test

import (
	"testing"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyRecordIsExistingVertexNoEdges(t *testing.T) {
	v, err := adjacency.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v.DegOut)
	assert.Equal(t, uint32(0), v.DegIn)

	v2, err := adjacency.Parse([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v2.DegOut)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	v := adjacency.View{
		Out: []adjacency.Neighborship{{Neighbor: 2, Edge: 9}, {Neighbor: 3, Edge: 11}},
		In:  []adjacency.Neighborship{{Neighbor: 1, Edge: 5}},
	}
	raw := adjacency.Encode(v)
	got, err := adjacency.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.DegOut)
	assert.Equal(t, uint32(1), got.DegIn)
	assert.Equal(t, v.Out, got.Out)
	assert.Equal(t, v.In, got.In)
}

func TestParse_TruncatedRecordErrors(t *testing.T) {
	v := adjacency.View{Out: []adjacency.Neighborship{{Neighbor: 2, Edge: 9}}}
	raw := adjacency.Encode(v)
	_, err := adjacency.Parse(raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestInsert_SortedAndDeduplicated(t *testing.T) {
	var half []adjacency.Neighborship
	half = adjacency.Insert(half, adjacency.Neighborship{Neighbor: 5, Edge: 1})
	half = adjacency.Insert(half, adjacency.Neighborship{Neighbor: 1, Edge: 1})
	half = adjacency.Insert(half, adjacency.Neighborship{Neighbor: 5, Edge: 0})
	half = adjacency.Insert(half, adjacency.Neighborship{Neighbor: 1, Edge: 1}) // duplicate, no-op (I4)

	require.True(t, adjacency.IsSorted(half))
	assert.Equal(t, []adjacency.Neighborship{
		{Neighbor: 1, Edge: 1},
		{Neighbor: 5, Edge: 0},
		{Neighbor: 5, Edge: 1},
	}, half)
}

func TestFind_EqualRangeWithoutEdge(t *testing.T) {
	v := adjacency.View{Out: []adjacency.Neighborship{
		{Neighbor: 2, Edge: 1}, {Neighbor: 2, Edge: 2}, {Neighbor: 3, Edge: 1},
	}}
	matches := adjacency.Find(v, adjacency.Source, 2, nil)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].Edge)
	assert.Equal(t, int64(2), matches[1].Edge)
}

func TestFind_AnyRoleOutgoingBeforeIncoming(t *testing.T) {
	v := adjacency.View{
		Out: []adjacency.Neighborship{{Neighbor: 4, Edge: 1}},
		In:  []adjacency.Neighborship{{Neighbor: 4, Edge: 1}},
	}
	matches := adjacency.Find(v, adjacency.Any, 4, nil)
	require.Len(t, matches, 2)
	assert.Equal(t, adjacency.Source, matches[0].Role)
	assert.Equal(t, adjacency.Target, matches[1].Role)
}

func TestRemove_NilEdgeRemovesEntireEqualRange(t *testing.T) {
	half := []adjacency.Neighborship{
		{Neighbor: 2, Edge: 1}, {Neighbor: 2, Edge: 2}, {Neighbor: 3, Edge: 1},
	}
	got := adjacency.Remove(half, 2, nil)
	assert.Equal(t, []adjacency.Neighborship{{Neighbor: 3, Edge: 1}}, got)
}

func TestRemove_SpecificEdgeOnly(t *testing.T) {
	half := []adjacency.Neighborship{
		{Neighbor: 2, Edge: 1}, {Neighbor: 2, Edge: 2},
	}
	e := int64(1)
	got := adjacency.Remove(half, 2, &e)
	assert.Equal(t, []adjacency.Neighborship{{Neighbor: 2, Edge: 2}}, got)
}

func TestSizeAfter(t *testing.T) {
	v := adjacency.View{Out: make([]adjacency.Neighborship, 2), In: make([]adjacency.Neighborship, 1)}
	assert.Equal(t, 8+3*16, adjacency.SizeAfter(v, 0, 0))
	assert.Equal(t, 8+5*16, adjacency.SizeAfter(v, 2, 0))
}
