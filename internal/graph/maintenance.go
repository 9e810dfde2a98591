// Package graph implements the batched KV-transaction protocol that
// maintains adjacency records: vertex/edge upsert and removal, and the
// find_edges query, per spec.md §4.2.
package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

// EdgeIDDefault is the implicit edge id used when an edge is created
// without one.
const EdgeIDDefault int64 = math.MaxInt64

// DegreeMissing is reported for a vertex find_edges/Degrees cannot find.
const DegreeMissing = -1

// Graph binds the maintenance protocol to one KV collection.
type Graph struct {
	db  kvstore.DB
	col kvstore.Collection
}

// New binds a Graph to col within db.
func New(db kvstore.DB, col kvstore.Collection) *Graph {
	return &Graph{db: db, col: col}
}

// batchIO is the minimal read/write surface the maintenance algorithms
// need, satisfied by either a caller-supplied Txn or one this package
// opens and commits itself for an autocommit call — the "one transaction
// or one autocommit unit" rule of spec.md §5.
type batchIO interface {
	Read(ctx context.Context, refs []kvstore.Ref, watch bool) ([]kvstore.Entry, error)
	Write(ctx context.Context, items []kvstore.WriteItem, opts kvstore.Options) error
}

type txnIO struct{ txn kvstore.Txn }

func (t txnIO) Read(ctx context.Context, refs []kvstore.Ref, watch bool) ([]kvstore.Entry, error) {
	return t.txn.Read(ctx, refs, watch)
}
func (t txnIO) Write(ctx context.Context, items []kvstore.WriteItem, opts kvstore.Options) error {
	return t.txn.Write(ctx, items, opts)
}

// run executes fn against ext if supplied (caller owns commit), or opens
// and commits a fresh transaction otherwise.
func (g *Graph) run(ctx context.Context, ext kvstore.Txn, fn func(exec batchIO) error) error {
	if ext != nil {
		return fn(txnIO{ext})
	}
	txn, err := g.db.BeginTxn(ctx)
	if err != nil {
		logging.Errorf("graph: begin autocommit transaction: %v", err)
		return fmt.Errorf("graph: begin autocommit transaction: %w", err)
	}
	if err := fn(txnIO{txn}); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		logging.Warnf("graph: autocommit transaction failed, retry may resolve a conflict: %v", err)
		return err
	}
	return nil
}

func dedupKeys(keys ...[]kvstore.Key) []kvstore.Key {
	seen := make(map[kvstore.Key]struct{})
	var out []kvstore.Key
	for _, batch := range keys {
		for _, k := range batch {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) refsFor(keys []kvstore.Key) []kvstore.Ref {
	refs := make([]kvstore.Ref, len(keys))
	for i, k := range keys {
		refs[i] = kvstore.Ref{Collection: g.col, Key: k}
	}
	return refs
}

type workingEntry struct {
	present bool
	view    adjacency.View
}

// fetchWorkingSet is the "collect touched vertices + single batched read"
// step shared by every maintenance operation (spec.md §4.2 steps 1-2).
func (g *Graph) fetchWorkingSet(ctx context.Context, exec batchIO, keys []kvstore.Key) (map[kvstore.Key]*workingEntry, error) {
	entries, err := exec.Read(ctx, g.refsFor(keys), true)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch working set: %w", err)
	}
	out := make(map[kvstore.Key]*workingEntry, len(keys))
	for i, k := range keys {
		e := entries[i]
		view, err := adjacency.Parse(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: vertex %d: %s", kvstore.ErrInternal, k, err)
		}
		out[k] = &workingEntry{present: e.Present, view: view}
	}
	return out, nil
}

// edgeTriple normalizes one (source, target, edge?) task.
func edgeTriple(sources, targets []kvstore.Key, edges []kvstore.Key, i int) (src, tgt kvstore.Key, edge int64) {
	src, tgt = sources[i], targets[i]
	if edges == nil {
		return src, tgt, EdgeIDDefault
	}
	return src, tgt, int64(edges[i])
}

func validateTriples(sources, targets, edges []kvstore.Key) error {
	if len(sources) != len(targets) {
		return fmt.Errorf("%w: sources and targets must be equal length (%d != %d)", kvstore.ErrInvalidArgument, len(sources), len(targets))
	}
	if edges != nil && len(edges) != len(sources) {
		return fmt.Errorf("%w: edges must be equal length to sources when supplied (%d != %d)", kvstore.ErrInvalidArgument, len(edges), len(sources))
	}
	return nil
}

// UpsertVertices creates an empty record for any vertex in keys that does
// not already exist; existing vertices are left untouched.
func (g *Graph) UpsertVertices(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key) error {
	if len(keys) == 0 {
		return nil
	}
	logging.Debugf("graph: upsert_vertices: %d keys (%d distinct)", len(keys), len(dedupKeys(keys)))
	working := dedupKeys(keys)
	return g.run(ctx, ext, func(exec batchIO) error {
		entries, err := g.fetchWorkingSet(ctx, exec, working)
		if err != nil {
			return err
		}
		var writes []kvstore.WriteItem
		for _, k := range working {
			if entries[k].present {
				continue
			}
			writes = append(writes, kvstore.WriteItem{
				Ref:     kvstore.Ref{Collection: g.col, Key: k},
				Value:   adjacency.Encode(adjacency.View{}),
				Present: true,
			})
		}
		if len(writes) == 0 {
			return nil
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// UpsertEdges applies the seven-step edge-upsert algorithm of spec.md §4.2:
// collect the working set, fetch it in one batch, estimate each touched
// half's growth, reallocate exact-capacity buffers, splice the new
// neighborships into sorted position, prune unchanged entries, and commit
// the survivors in one batch. edges may be nil to use EdgeIDDefault for
// every task.
func (g *Graph) UpsertEdges(ctx context.Context, ext kvstore.Txn, sources, targets, edges []kvstore.Key) error {
	if err := validateTriples(sources, targets, edges); err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	logging.Debugf("graph: upsert_edges: %d triples", len(sources))

	// Step 1: collect touched vertices.
	working := dedupKeys(sources, targets)

	return g.run(ctx, ext, func(exec batchIO) error {
		// Step 2: fetch.
		entries, err := g.fetchWorkingSet(ctx, exec, working)
		if err != nil {
			return err
		}

		type delta struct {
			outSeen map[adjacency.Neighborship]bool
			inSeen  map[adjacency.Neighborship]bool
			outNew  []adjacency.Neighborship
			inNew   []adjacency.Neighborship
		}
		deltas := make(map[kvstore.Key]*delta, len(working))
		for k, e := range entries {
			d := &delta{outSeen: make(map[adjacency.Neighborship]bool, len(e.view.Out)), inSeen: make(map[adjacency.Neighborship]bool, len(e.view.In))}
			for _, n := range e.view.Out {
				d.outSeen[n] = true
			}
			for _, n := range e.view.In {
				d.inSeen[n] = true
			}
			deltas[k] = d
		}

		// Step 3: estimate. An already-present (neighbor, edge) pair is a
		// no-op (I4) and contributes nothing to either half's delta.
		for i := range sources {
			src, tgt, edgeID := edgeTriple(sources, targets, edges, i)
			outKey := adjacency.Neighborship{Neighbor: int64(tgt), Edge: edgeID}
			if !deltas[src].outSeen[outKey] {
				deltas[src].outSeen[outKey] = true
				deltas[src].outNew = append(deltas[src].outNew, outKey)
			}
			inKey := adjacency.Neighborship{Neighbor: int64(src), Edge: edgeID}
			if !deltas[tgt].inSeen[inKey] {
				deltas[tgt].inSeen[inKey] = true
				deltas[tgt].inNew = append(deltas[tgt].inNew, inKey)
			}
		}

		// Steps 4-5: reallocate exact-capacity buffers, then splice the
		// new neighborships into sorted position.
		var writes []kvstore.WriteItem
		for _, k := range working {
			e := entries[k]
			d := deltas[k]

			// Step 6: prune no-op entries.
			if e.present && len(d.outNew) == 0 && len(d.inNew) == 0 {
				continue
			}

			newOut := make([]adjacency.Neighborship, 0, len(e.view.Out)+len(d.outNew))
			newOut = mergeSorted(newOut, e.view.Out, d.outNew)
			newIn := make([]adjacency.Neighborship, 0, len(e.view.In)+len(d.inNew))
			newIn = mergeSorted(newIn, e.view.In, d.inNew)

			writes = append(writes, kvstore.WriteItem{
				Ref:     kvstore.Ref{Collection: g.col, Key: k},
				Value:   adjacency.Encode(adjacency.View{Out: newOut, In: newIn}),
				Present: true,
			})
		}

		// Step 7: commit the survivors.
		if len(writes) == 0 {
			return nil
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// mergeSorted merges sorted (already ordered by Neighborship.Less) and
// fresh into dst, which must have at least len(sorted)+len(fresh)
// capacity. fresh need not be pre-sorted; it is always sorted in place
// first since estimate-pass insertion order is call order, not key order.
func mergeSorted(dst []adjacency.Neighborship, sorted, fresh []adjacency.Neighborship) []adjacency.Neighborship {
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Less(fresh[j]) })
	i, j := 0, 0
	for i < len(sorted) && j < len(fresh) {
		if sorted[i].Less(fresh[j]) {
			dst = append(dst, sorted[i])
			i++
		} else {
			dst = append(dst, fresh[j])
			j++
		}
	}
	dst = append(dst, sorted[i:]...)
	dst = append(dst, fresh[j:]...)
	return dst
}

// RemoveEdges erases matching (source, target[, edge]) triples from both
// endpoints' records in one batched pass. A nil edges slice removes the
// entire equal-range for every (source, target) pair in the batch
// (spec.md §9's confirmed multi-graph semantics).
func (g *Graph) RemoveEdges(ctx context.Context, ext kvstore.Txn, sources, targets, edges []kvstore.Key) error {
	if err := validateTriples(sources, targets, edges); err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	logging.Debugf("graph: remove_edges: %d triples", len(sources))
	working := dedupKeys(sources, targets)

	return g.run(ctx, ext, func(exec batchIO) error {
		entries, err := g.fetchWorkingSet(ctx, exec, working)
		if err != nil {
			return err
		}

		type acc struct {
			out, in []adjacency.Neighborship
			changed bool
		}
		accs := make(map[kvstore.Key]*acc, len(working))
		for k, e := range entries {
			accs[k] = &acc{out: e.view.Out, in: e.view.In}
		}

		for i := range sources {
			src, tgt, edgeID := edgeTriple(sources, targets, edges, i)
			var edgePtr *int64
			if edges != nil {
				edgePtr = &edgeID
			}
			sa := accs[src]
			before := len(sa.out)
			sa.out = adjacency.Remove(sa.out, int64(tgt), edgePtr)
			if len(sa.out) != before {
				sa.changed = true
			}
			ta := accs[tgt]
			before = len(ta.in)
			ta.in = adjacency.Remove(ta.in, int64(src), edgePtr)
			if len(ta.in) != before {
				ta.changed = true
			}
		}

		var writes []kvstore.WriteItem
		for _, k := range working {
			a := accs[k]
			if !a.changed {
				continue
			}
			writes = append(writes, kvstore.WriteItem{
				Ref:     kvstore.Ref{Collection: g.col, Key: k},
				Value:   adjacency.Encode(adjacency.View{Out: a.out, In: a.in}),
				Present: true,
			})
		}
		if len(writes) == 0 {
			return nil
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// RemoveVertices deletes every vertex in keys and, per its role selector,
// erases the corresponding references from each discovered neighbor's
// record (spec.md §4.2's two-phase vertex removal).
func (g *Graph) RemoveVertices(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, roles []adjacency.Role) error {
	if len(keys) == 0 {
		return nil
	}
	if len(roles) != len(keys) {
		return fmt.Errorf("%w: roles must be equal length to keys (%d != %d)", kvstore.ErrInvalidArgument, len(roles), len(keys))
	}
	logging.Debugf("graph: remove_vertices: %d keys", len(keys))

	return g.run(ctx, ext, func(exec batchIO) error {
		// Phase 1: fetch the doomed vertices and discover their neighbors.
		doomed, err := g.fetchWorkingSet(ctx, exec, keys)
		if err != nil {
			return err
		}

		type removal struct {
			from int64 // the doomed vertex's key, as it will appear in a neighbor's record
			edge int64
		}
		// neighborRemovals[neighborKey][Target] = removals to apply to that neighbor's In half
		// neighborRemovals[neighborKey][Source] = removals to apply to that neighbor's Out half
		neighborRemovals := make(map[kvstore.Key]map[adjacency.Role][]removal)
		addRemoval := func(neighbor kvstore.Key, oppositeHalf adjacency.Role, r removal) {
			if neighborRemovals[neighbor] == nil {
				neighborRemovals[neighbor] = make(map[adjacency.Role][]removal)
			}
			neighborRemovals[neighbor][oppositeHalf] = append(neighborRemovals[neighbor][oppositeHalf], r)
		}

		for i, k := range keys {
			v := doomed[k].view
			role := roles[i]
			if role == adjacency.Source || role == adjacency.Any {
				for _, n := range v.Out {
					addRemoval(kvstore.Key(n.Neighbor), adjacency.Target, removal{from: int64(k), edge: n.Edge})
				}
			}
			if role == adjacency.Target || role == adjacency.Any {
				for _, n := range v.In {
					addRemoval(kvstore.Key(n.Neighbor), adjacency.Source, removal{from: int64(k), edge: n.Edge})
				}
			}
		}

		// Phase 2: build the combined working set, fetch it, apply removals.
		var neighborKeys []kvstore.Key
		for n := range neighborRemovals {
			neighborKeys = append(neighborKeys, n)
		}
		neighbors, err := g.fetchWorkingSet(ctx, exec, dedupKeys(neighborKeys))
		if err != nil {
			return err
		}

		var writes []kvstore.WriteItem
		for n, byHalf := range neighborRemovals {
			e := neighbors[n]
			out, in := e.view.Out, e.view.In
			for _, r := range byHalf[adjacency.Target] {
				edge := r.edge
				in = adjacency.Remove(in, r.from, &edge)
			}
			for _, r := range byHalf[adjacency.Source] {
				edge := r.edge
				out = adjacency.Remove(out, r.from, &edge)
			}
			writes = append(writes, kvstore.WriteItem{
				Ref:     kvstore.Ref{Collection: g.col, Key: n},
				Value:   adjacency.Encode(adjacency.View{Out: out, In: in}),
				Present: true,
			})
		}

		// Finally, mark the doomed vertices themselves for deletion.
		for _, k := range keys {
			writes = append(writes, kvstore.WriteItem{
				Ref:     kvstore.Ref{Collection: g.col, Key: k},
				Present: false,
			})
		}

		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// FindEdgesResult is the output of FindEdges: per-vertex degrees plus the
// flattened (center, neighbor, edge) tuples, emitted outgoing-before-
// incoming within each vertex when role is Any (spec.md §4.2).
type FindEdgesResult struct {
	Degrees  []int
	Center   []int64
	Neighbor []int64
	Edge     []int64
}

// FindEdges reports, for each (vertex, role) task, that vertex's degree
// (DegreeMissing if the vertex does not exist) and its matching
// (center, neighbor, edge) tuples.
func (g *Graph) FindEdges(ctx context.Context, ext kvstore.Txn, vertices []kvstore.Key, roles []adjacency.Role) (FindEdgesResult, error) {
	if len(roles) != len(vertices) {
		return FindEdgesResult{}, fmt.Errorf("%w: roles must be equal length to vertices (%d != %d)", kvstore.ErrInvalidArgument, len(roles), len(vertices))
	}
	var result FindEdgesResult
	err := g.run(ctx, ext, func(exec batchIO) error {
		entries, err := g.fetchWorkingSet(ctx, exec, dedupKeys(vertices))
		if err != nil {
			return err
		}
		result.Degrees = make([]int, len(vertices))
		for i, k := range vertices {
			e := entries[k]
			if !e.present {
				result.Degrees[i] = DegreeMissing
				continue
			}
			matches := e.view.Neighbors(roles[i])
			result.Degrees[i] = len(matches)
			for _, n := range matches {
				result.Center = append(result.Center, int64(k))
				result.Neighbor = append(result.Neighbor, n.Neighbor)
				result.Edge = append(result.Edge, n.Edge)
			}
		}
		return nil
	})
	return result, err
}

// Degrees is the supplemented fast path (SPEC_FULL.md §10) that reports
// only per-vertex degree counts without materializing tuples.
func (g *Graph) Degrees(ctx context.Context, ext kvstore.Txn, vertices []kvstore.Key, roles []adjacency.Role) ([]int, error) {
	if len(roles) != len(vertices) {
		return nil, fmt.Errorf("%w: roles must be equal length to vertices (%d != %d)", kvstore.ErrInvalidArgument, len(roles), len(vertices))
	}
	degrees := make([]int, len(vertices))
	err := g.run(ctx, ext, func(exec batchIO) error {
		entries, err := g.fetchWorkingSet(ctx, exec, dedupKeys(vertices))
		if err != nil {
			return err
		}
		for i, k := range vertices {
			e := entries[k]
			if !e.present {
				degrees[i] = DegreeMissing
				continue
			}
			switch roles[i] {
			case adjacency.Source:
				degrees[i] = len(e.view.Out)
			case adjacency.Target:
				degrees[i] = len(e.view.In)
			default:
				degrees[i] = len(e.view.Out) + len(e.view.In)
			}
		}
		return nil
	})
	return degrees, err
}

// Contains reports whether a vertex record exists for key.
func (g *Graph) Contains(ctx context.Context, ext kvstore.Txn, key kvstore.Key) (bool, error) {
	var present bool
	err := g.run(ctx, ext, func(exec batchIO) error {
		entries, err := exec.Read(ctx, []kvstore.Ref{{Collection: g.col, Key: key}}, false)
		if err != nil {
			return err
		}
		present = entries[0].Present
		return nil
	})
	return present, err
}
