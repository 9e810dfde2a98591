package graph_test

import (
	"context"
	"testing"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios walks spec.md §8's four graph scenarios verbatim, one
// subtest each, against a single fresh store per scenario. The individual
// assertions are also covered piecemeal elsewhere in this package; this
// test exists so the numbered scenarios have one place that reproduces
// them exactly as written in the spec.
func TestScenarios(t *testing.T) {
	ctx := context.Background()

	// Scenario 1: directed triangle, every vertex has out-degree 1 and
	// in-degree 1.
	t.Run("scenario 1: triangle graph", func(t *testing.T) {
		db := kvstore.NewMemDB()
		g := graph.New(db, kvstore.MainCollection)

		require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2, 3}))
		require.NoError(t, g.UpsertEdges(ctx, nil,
			[]kvstore.Key{1, 2, 3},
			[]kvstore.Key{2, 3, 1},
			nil,
		))

		degs, err := g.Degrees(ctx, nil, []kvstore.Key{1, 2, 3}, roles(adjacency.Any, 3))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2, 2}, degs)

		res, err := g.FindEdges(ctx, nil, []kvstore.Key{1}, []adjacency.Role{adjacency.Source})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, res.Neighbor)
	})

	// Scenario 2: removing a vertex by its Source role erases the matching
	// entries from its out-neighbors' In halves and deletes the vertex.
	t.Run("scenario 2: remove vertex by source role", func(t *testing.T) {
		db := kvstore.NewMemDB()
		g := graph.New(db, kvstore.MainCollection)

		require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2}))
		require.NoError(t, g.UpsertEdges(ctx, nil, []kvstore.Key{1}, []kvstore.Key{2}, nil))
		require.NoError(t, g.RemoveVertices(ctx, nil, []kvstore.Key{1}, []adjacency.Role{adjacency.Source}))

		present, err := g.Contains(ctx, nil, 1)
		require.NoError(t, err)
		assert.False(t, present)

		degs, err := g.Degrees(ctx, nil, []kvstore.Key{2}, []adjacency.Role{adjacency.Target})
		require.NoError(t, err)
		assert.Equal(t, []int{0}, degs)
	})

	// Scenario 3: 1,000 vertices, each vertex v wired by stride 100 to
	// v+100, v+200, … under 1000 (wrapping modulo 1000). Every vertex ends
	// up with exactly 9 distinct out-neighbors.
	t.Run("scenario 3: dense stride-100 graph has degree 9 everywhere", func(t *testing.T) {
		const n = 1000
		const stride = 100

		db := kvstore.NewMemDB()
		g := graph.New(db, kvstore.MainCollection)

		vertices := make([]kvstore.Key, n)
		for v := 0; v < n; v++ {
			vertices[v] = kvstore.Key(v)
		}
		require.NoError(t, g.UpsertVertices(ctx, nil, vertices))

		var sources, targets []kvstore.Key
		for v := 0; v < n; v++ {
			for k := stride; k < n; k += stride {
				sources = append(sources, kvstore.Key(v))
				targets = append(targets, kvstore.Key((v+k)%n))
			}
		}
		require.NoError(t, g.UpsertEdges(ctx, nil, sources, targets, nil))

		degs, err := g.Degrees(ctx, nil, vertices, roles(adjacency.Source, n))
		require.NoError(t, err)
		for v, d := range degs {
			require.Equalf(t, 9, d, "vertex %d: degree = %d, want 9", v, d)
		}
	})

	// Scenario 4: two concurrent transactions upserting edges that touch
	// the same vertex must have the second committer observe ErrConflict.
	t.Run("scenario 4: conflicting transactions", func(t *testing.T) {
		db := kvstore.NewMemDB()
		g := graph.New(db, kvstore.MainCollection)
		require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2, 3}))

		txnA, err := db.BeginTxn(ctx)
		require.NoError(t, err)
		txnB, err := db.BeginTxn(ctx)
		require.NoError(t, err)

		require.NoError(t, g.UpsertEdges(ctx, txnA, []kvstore.Key{1}, []kvstore.Key{2}, nil))
		require.NoError(t, g.UpsertEdges(ctx, txnB, []kvstore.Key{1}, []kvstore.Key{3}, nil))

		require.NoError(t, txnA.Commit(ctx))
		err = txnB.Commit(ctx)
		assert.ErrorIs(t, err, kvstore.ErrConflict)
	})
}
