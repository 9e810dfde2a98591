package task_test

import (
	"context"
	"testing"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/arena"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/gather"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastStride(t *testing.T) {
	tk := &task.Task[kvstore.Key]{Items: []kvstore.Key{42}, Stride: 0}
	tk.Items = []kvstore.Key{42}
	assert.Equal(t, 1, tk.Count())
	assert.Equal(t, kvstore.Key(42), tk.At(0))
}

func TestFailOnlyRecordsFirstError(t *testing.T) {
	tk := &task.Task[kvstore.Key]{}
	first := kvstore.ErrInvalidArgument
	second := kvstore.ErrConflict

	assert.True(t, tk.Fail(first))
	assert.True(t, tk.Fail(second))
	assert.ErrorIs(t, tk.Err, first)
	assert.NotErrorIs(t, tk.Err, second)
}

func TestRunUpsertVertices(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	g := graph.New(db, kvstore.MainCollection)

	tk := &task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1, 2, 3}, Stride: 1}
	task.RunUpsertVertices(ctx, g, tk)
	require.NoError(t, tk.Err)

	ok, err := g.Contains(ctx, nil, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunUpsertEdgesBroadcastEdgeColumn(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	g := graph.New(db, kvstore.MainCollection)
	require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2, 3}))

	et := &task.EdgeTask{
		Task:         task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1, 1}, Stride: 1},
		Targets:      []kvstore.Key{2, 3},
		TargetStride: 1,
		Edges:        []kvstore.Key{99},
		EdgeStride:   0,
	}
	task.RunUpsertEdges(ctx, g, et)
	require.NoError(t, et.Err)

	degs, err := g.Degrees(ctx, nil, []kvstore.Key{1}, []adjacency.Role{adjacency.Source})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, degs)
}

func TestRunRemoveVertices(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	g := graph.New(db, kvstore.MainCollection)
	require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2}))
	require.NoError(t, g.UpsertEdges(ctx, nil, []kvstore.Key{1}, []kvstore.Key{2}, []kvstore.Key{5}))

	rt := &task.RemoveVerticesTask{
		Task:       task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{2}, Stride: 1},
		Roles:      []adjacency.Role{adjacency.Target},
		RoleStride: 0,
	}
	task.RunRemoveVertices(ctx, g, rt)
	require.NoError(t, rt.Err)

	ok, err := g.Contains(ctx, nil, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunReadPopulatesOutputSlots(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	docs := document.New(db, kvstore.MainCollection)
	require.NoError(t, docs.Assign(ctx, nil, []kvstore.Key{1}, [][]byte{[]byte(`{"a":1}`)}))

	rt := &task.ReadTask{Task: task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1}}
	task.RunRead(ctx, docs, rt)
	require.NoError(t, rt.Err)
	require.True(t, rt.Found[0])
	assert.JSONEq(t, `{"a":1}`, string(rt.Bodies[0]))
}

func TestValidateOptionsRejectsWriteFlushOnRead(t *testing.T) {
	err := task.ValidateOptions(kvstore.OptWriteFlush, false, false)
	assert.Error(t, err)
}

func TestRunRemoveEdges(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	g := graph.New(db, kvstore.MainCollection)
	require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2}))
	require.NoError(t, g.UpsertEdges(ctx, nil, []kvstore.Key{1}, []kvstore.Key{2}, []kvstore.Key{5}))

	et := &task.EdgeTask{
		Task:    task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1},
		Targets: []kvstore.Key{2}, TargetStride: 1,
	}
	task.RunRemoveEdges(ctx, g, et)
	require.NoError(t, et.Err)

	degs, err := g.Degrees(ctx, nil, []kvstore.Key{1}, []adjacency.Role{adjacency.Source})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, degs)
}

func TestRunFindEdgesWritesIntoOwnedArena(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	g := graph.New(db, kvstore.MainCollection)
	require.NoError(t, g.UpsertVertices(ctx, nil, []kvstore.Key{1, 2, 3}))
	require.NoError(t, g.UpsertEdges(ctx, nil, []kvstore.Key{1, 1}, []kvstore.Key{2, 3}, []kvstore.Key{10, 11}))

	ft := &task.FindEdgesTask{
		Task:  task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1},
		Roles: []adjacency.Role{adjacency.Source},
	}
	task.RunFindEdges(ctx, g, ft)
	require.NoError(t, ft.Err)
	assert.Equal(t, []int{2}, ft.Result.Degrees)
	assert.Equal(t, []int64{10, 11}, ft.Result.Edge)
}

func TestRunMergeAndRunPatchChain(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	docs := document.New(db, kvstore.MainCollection)
	require.NoError(t, docs.Assign(ctx, nil, []kvstore.Key{1}, [][]byte{[]byte(`{"person":"Carl","age":24}`)}))

	mt := &task.PatchTask{
		Task:    task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1},
		Patches: [][]byte{[]byte(`{"person":"Bob","age":28}`)},
	}
	task.RunMerge(ctx, docs, mt)
	require.NoError(t, mt.Err)

	pt := &task.PatchTask{
		Task:    task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1},
		Patches: [][]byte{[]byte(`[{"op":"add","path":"/hello","value":["world"]},{"op":"remove","path":"/age"}]`)},
	}
	task.RunPatch(ctx, docs, pt)
	require.NoError(t, pt.Err)

	bodies, found, err := docs.Read(ctx, nil, []kvstore.Key{1}, nil)
	require.NoError(t, err)
	require.True(t, found[0])
	assert.JSONEq(t, `{"person":"Bob","hello":["world"]}`, string(bodies[0]))
}

func TestRunGist(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	docs := document.New(db, kvstore.MainCollection)
	require.NoError(t, docs.Assign(ctx, nil, []kvstore.Key{1}, [][]byte{[]byte(`{"a":{"b":1},"c":2}`)}))

	gt := &task.GistTask{Task: task.Task[kvstore.Key]{DB: db, Items: []kvstore.Key{1}, Stride: 1}}
	task.RunGist(ctx, docs, gt)
	require.NoError(t, gt.Err)
	assert.Equal(t, []string{"/a/b", "/c"}, gt.Paths)
}

func TestRunGatherSharesCallerArena(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemDB()
	docs := document.New(db, kvstore.MainCollection)
	require.NoError(t, docs.Assign(ctx, nil, []kvstore.Key{1, 2}, [][]byte{
		[]byte(`{"age":30}`),
		[]byte(`{"age":40}`),
	}))

	a := arena.New(64)
	req := gather.NewRequest().Columns(gather.ColumnSpec{Path: "age", Type: gather.I64})
	gt := &task.GatherTask{
		Task:    task.Task[kvstore.Key]{DB: db, Arena: a, Items: []kvstore.Key{1, 2}, Stride: 1},
		Request: req,
	}
	task.RunGather(ctx, docs, gt)
	require.NoError(t, gt.Err)
	require.Len(t, gt.Result.Columns, 1)
	assert.Equal(t, []bool{true, true}, gt.Result.Columns[0].Validity)
	assert.Equal(t, 16, a.TotalAllocated())
}
