package task

import (
	"context"
	"encoding/binary"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/arena"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/gather"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
)

// materialize expands a strided Task[T] into a plain, fully populated
// slice the underlying plain-Go API expects.
func materialize[T any](t *Task[T]) []T {
	n := t.Count()
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = t.At(i)
	}
	return out
}

// EdgeTask is the task-struct shape for an edge batch: Items carries the
// Sources column, with the Targets and Edges columns held alongside it so each
// can carry its own stride (a caller broadcasting one edge id across many
// (source, target) pairs is a legal, common case). Used by both
// RunUpsertEdges and RunRemoveEdges, which share the same input shape.
type EdgeTask struct {
	Task[kvstore.Key] // Items/Stride describe the Sources column.

	Targets      []kvstore.Key
	TargetStride int
	Edges        []kvstore.Key
	EdgeStride   int
}

func strided(items []kvstore.Key, stride, n int) []kvstore.Key {
	out := make([]kvstore.Key, n)
	for i := 0; i < n; i++ {
		if stride == 0 {
			out[i] = items[0]
		} else {
			out[i] = items[i*stride]
		}
	}
	return out
}

func (t *EdgeTask) columns() (sources, targets, edges []kvstore.Key) {
	n := t.Count()
	sources = materialize(&t.Task)
	targets = strided(t.Targets, t.TargetStride, n)
	if t.Edges != nil {
		edges = strided(t.Edges, t.EdgeStride, n)
	}
	return
}

// RunUpsertVertices is the task-struct entry point for
// graph.Graph.UpsertVertices.
func RunUpsertVertices(ctx context.Context, g *graph.Graph, t *Task[kvstore.Key]) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(t, 0)
	if owned {
		defer a.Release()
	}
	t.Fail(g.UpsertVertices(ctx, t.Txn, materialize(t)))
}

// RunUpsertEdges is the task-struct entry point for
// graph.Graph.UpsertEdges.
func RunUpsertEdges(ctx context.Context, g *graph.Graph, t *EdgeTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	sources, targets, edges := t.columns()
	t.Fail(g.UpsertEdges(ctx, t.Txn, sources, targets, edges))
}

// RunRemoveEdges is the task-struct entry point for graph.Graph.RemoveEdges,
// sharing EdgeTask's input shape with RunUpsertEdges.
func RunRemoveEdges(ctx context.Context, g *graph.Graph, t *EdgeTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	sources, targets, edges := t.columns()
	t.Fail(g.RemoveEdges(ctx, t.Txn, sources, targets, edges))
}

// RemoveVerticesTask additionally carries the per-vertex role selector
// used to discover which half of each doomed vertex's neighbors to erase
// references from.
type RemoveVerticesTask struct {
	Task[kvstore.Key]

	Roles      []adjacency.Role
	RoleStride int
}

func roleSlice(roles []adjacency.Role, stride, n int) []adjacency.Role {
	out := make([]adjacency.Role, n)
	for i := 0; i < n; i++ {
		if stride == 0 {
			out[i] = roles[0]
		} else {
			out[i] = roles[i*stride]
		}
	}
	return out
}

// RunRemoveVertices is the task-struct entry point for
// graph.Graph.RemoveVertices.
func RunRemoveVertices(ctx context.Context, g *graph.Graph, t *RemoveVerticesTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	roles := roleSlice(t.Roles, t.RoleStride, len(keys))
	t.Fail(g.RemoveVertices(ctx, t.Txn, keys, roles))
}

// FindEdgesTask is the task-struct shape for graph.Graph.FindEdges: Items
// holds the vertices, Roles the parallel role-selector column.
type FindEdgesTask struct {
	Task[kvstore.Key]

	Roles      []adjacency.Role
	RoleStride int

	Result graph.FindEdgesResult
}

// arenaInt64s writes vals into an arena-allocated little-endian byte
// buffer and decodes them back out into a fresh heap slice. The returned
// slice is not backed by the arena; only the byte copy lives there.
func arenaInt64s(a *arena.Arena, vals []int64) []int64 {
	if len(vals) == 0 {
		return nil
	}
	buf := a.Alloc(len(vals) * 8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	out := make([]int64, len(vals))
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

// RunFindEdges is the task-struct entry point for graph.Graph.FindEdges.
func RunFindEdges(ctx context.Context, g *graph.Graph, t *FindEdgesTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, false, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	vertices := materialize(&t.Task)
	roles := roleSlice(t.Roles, t.RoleStride, len(vertices))
	result, err := g.FindEdges(ctx, t.Txn, vertices, roles)
	if t.Fail(err) {
		return
	}
	result.Center = arenaInt64s(a, result.Center)
	result.Neighbor = arenaInt64s(a, result.Neighbor)
	result.Edge = arenaInt64s(a, result.Edge)
	t.Result = result
}

// ReadTask is the task-struct shape for document.Store.Read: Items holds
// the keys, Pointers the parallel JSON-Pointer column (empty string means
// "whole document").
type ReadTask struct {
	Task[kvstore.Key]

	Pointers      []string
	PointerStride int

	Bodies [][]byte
	Found  []bool
}

func stringSlice(items []string, stride, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if stride == 0 {
			out[i] = items[0]
		} else {
			out[i] = items[i*stride]
		}
	}
	return out
}

// RunRead is the task-struct entry point for document.Store.Read; results
// are written into t.Bodies/t.Found, mirroring the arena-populated output
// slots of the task-struct convention.
func RunRead(ctx context.Context, s *document.Store, t *ReadTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, false, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	var pointers []string
	if t.Pointers != nil {
		pointers = stringSlice(t.Pointers, t.PointerStride, len(keys))
	}
	bodies, found, err := s.Read(ctx, t.Txn, keys, pointers)
	if t.Fail(err) {
		return
	}
	arenaBodies := make([][]byte, len(bodies))
	for i, b := range bodies {
		if b == nil {
			continue
		}
		arenaBodies[i] = a.CopyBytes(b)
	}
	t.Bodies = arenaBodies
	t.Found = found
}

// PatchTask is the task-struct shape shared by RunMerge and RunPatch:
// Items holds the keys, Patches the parallel RFC 7396/6902 patch bodies.
type PatchTask struct {
	Task[kvstore.Key]

	Patches     [][]byte
	PatchStride int
}

func bytesSlice(items [][]byte, stride, n int) [][]byte {
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		if stride == 0 {
			out[i] = items[0]
		} else {
			out[i] = items[i*stride]
		}
	}
	return out
}

// RunMerge is the task-struct entry point for document.Store.Merge.
func RunMerge(ctx context.Context, s *document.Store, t *PatchTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	patches := bytesSlice(t.Patches, t.PatchStride, len(keys))
	t.Fail(s.Merge(ctx, t.Txn, keys, patches))
}

// RunPatch is the task-struct entry point for document.Store.Patch.
func RunPatch(ctx context.Context, s *document.Store, t *PatchTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, true, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	patches := bytesSlice(t.Patches, t.PatchStride, len(keys))
	t.Fail(s.Patch(ctx, t.Txn, keys, patches))
}

// GistTask is the task-struct shape for document.Store.Gist.
type GistTask struct {
	Task[kvstore.Key]

	Paths []string
}

// RunGist is the task-struct entry point for document.Store.Gist; the
// returned paths are copied through the arena since they are the call's
// output.
func RunGist(ctx context.Context, s *document.Store, t *GistTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, false, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	paths, err := s.Gist(ctx, t.Txn, keys)
	if t.Fail(err) {
		return
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = string(a.CopyBytes([]byte(p)))
	}
	t.Paths = out
}

// GatherTask is the task-struct shape for document.Store.Read followed by
// gather.Gather: Items holds the keys, Request the column header.
type GatherTask struct {
	Task[kvstore.Key]

	Request *gather.Request
	Result  gather.Table
}

// RunGather is the task-struct entry point for the gather/gist table
// materialization operation (spec.md §4.4): it fetches each key's
// document, then gathers Request's columns from the batch. The table's
// fixed-width and variable-length buffers are re-homed in the arena since
// they are the call's output.
func RunGather(ctx context.Context, s *document.Store, t *GatherTask) {
	if t.Failed() {
		return
	}
	if err := ValidateOptions(t.Options, false, t.Txn != nil); err != nil {
		t.Fail(err)
		return
	}
	a, owned := EnsureArena(&t.Task, 0)
	if owned {
		defer a.Release()
	}
	keys := materialize(&t.Task)
	bodies, found, err := s.Read(ctx, t.Txn, keys, nil)
	if t.Fail(err) {
		return
	}
	table, err := gather.Gather(keys, bodies, found, t.Request)
	if t.Fail(err) {
		return
	}
	for i := range table.Columns {
		if table.Columns[i].FixedData != nil {
			table.Columns[i].FixedData = a.CopyBytes(table.Columns[i].FixedData)
		}
		if table.Columns[i].Contents != nil {
			table.Columns[i].Contents = a.CopyBytes(table.Columns[i].Contents)
		}
	}
	t.Result = table
}
