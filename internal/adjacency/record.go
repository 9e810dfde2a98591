// Package adjacency implements the per-vertex neighborhood record: its
// binary layout, parsing, binary-search lookup, and the size arithmetic of
// a record after splicing in new neighborships.
//
// Record layout (spec.md §3):
//
//	[ deg_out: u32 | deg_in: u32 | out[0..deg_out] | in[0..deg_in] ]
//
// Both halves are independently sorted ascending by (neighbor_id, edge_id)
// and deduplicated. The degree header is fixed at 32 bits end to end — it
// is never iterated as a 16-bit quantity, resolving spec.md §9's open
// question about header width.
package adjacency

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Neighborship is one (neighbor_id, edge_id) entry inside a record half.
type Neighborship struct {
	Neighbor int64
	Edge     int64
}

// Less orders neighborships by (neighbor_id, edge_id), the record's sort key.
func (n Neighborship) Less(o Neighborship) bool {
	if n.Neighbor != o.Neighbor {
		return n.Neighbor < o.Neighbor
	}
	return n.Edge < o.Edge
}

const (
	headerSize        = 8 // two uint32 fields
	neighborshipSize  = 16
	minRecordSize     = headerSize
)

// Role selects which half(s) of a record a query consults.
type Role int

const (
	// Source selects the out half (this vertex is the edge's source).
	Source Role = iota
	// Target selects the in half (this vertex is the edge's target).
	Target
	// Any selects both halves, outgoing first, per spec.md §4.2's
	// ordering rule for find_edges.
	Any
)

func (r Role) String() string {
	switch r {
	case Source:
		return "source"
	case Target:
		return "target"
	case Any:
		return "any"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// View is a parsed, read-only window over one vertex's record bytes. It
// does not copy the neighborship slices out of the source buffer; callers
// that need to mutate must go through Insert/Remove/Encode, which build a
// fresh buffer.
type View struct {
	DegOut uint32
	DegIn  uint32
	Out    []Neighborship
	In     []Neighborship
}

// Parse decodes raw into a View. A nil or sub-header-length slice (len < 8)
// parses to an empty View — spec.md §3's "existing vertex with no edges"
// case — and is not an error; the caller is responsible for distinguishing
// that from a missing key via the KV read's Present flag.
func Parse(raw []byte) (View, error) {
	if len(raw) < minRecordSize {
		return View{}, nil
	}
	degOut := binary.LittleEndian.Uint32(raw[0:4])
	degIn := binary.LittleEndian.Uint32(raw[4:8])

	wantLen := headerSize + int(degOut)*neighborshipSize + int(degIn)*neighborshipSize
	if len(raw) < wantLen {
		return View{}, fmt.Errorf("adjacency: record truncated: header says %d+%d neighborships, have %d bytes", degOut, degIn, len(raw))
	}

	out := make([]Neighborship, degOut)
	offset := headerSize
	for i := range out {
		out[i] = Neighborship{
			Neighbor: int64(binary.LittleEndian.Uint64(raw[offset : offset+8])),
			Edge:     int64(binary.LittleEndian.Uint64(raw[offset+8 : offset+16])),
		}
		offset += neighborshipSize
	}
	in := make([]Neighborship, degIn)
	for i := range in {
		in[i] = Neighborship{
			Neighbor: int64(binary.LittleEndian.Uint64(raw[offset : offset+8])),
			Edge:     int64(binary.LittleEndian.Uint64(raw[offset+8 : offset+16])),
		}
		offset += neighborshipSize
	}
	return View{DegOut: degOut, DegIn: degIn, Out: out, In: in}, nil
}

// Encode serializes a View back to its byte layout.
func Encode(v View) []byte {
	size := headerSize + len(v.Out)*neighborshipSize + len(v.In)*neighborshipSize
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.Out)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(v.In)))
	offset := headerSize
	for _, n := range v.Out {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(n.Neighbor))
		binary.LittleEndian.PutUint64(buf[offset+8:offset+16], uint64(n.Edge))
		offset += neighborshipSize
	}
	for _, n := range v.In {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(n.Neighbor))
		binary.LittleEndian.PutUint64(buf[offset+8:offset+16], uint64(n.Edge))
		offset += neighborshipSize
	}
	return buf
}

// half returns the slice Role selects. Any is only meaningful for read
// paths that concatenate both; callers needing Any for a single half
// should not call half directly.
func (v View) half(r Role) []Neighborship {
	switch r {
	case Source:
		return v.Out
	case Target:
		return v.In
	default:
		panic("adjacency: half() does not support Role Any")
	}
}

// Neighbors returns the half of the record Role selects. For Any it
// returns outgoing entries followed by incoming entries, matching the
// find_edges ordering rule in spec.md §4.2.
func (v View) Neighbors(r Role) []Neighborship {
	switch r {
	case Source:
		return v.Out
	case Target:
		return v.In
	case Any:
		out := make([]Neighborship, 0, len(v.Out)+len(v.In))
		out = append(out, v.Out...)
		out = append(out, v.In...)
		return out
	default:
		panic(fmt.Sprintf("adjacency: unknown role %d", r))
	}
}

// equalRange returns the [lo, hi) slice index range of half whose Neighbor
// field equals neighbor, via binary search on the (neighbor, edge) sort key.
func equalRange(half []Neighborship, neighbor int64) (lo, hi int) {
	lo = sort.Search(len(half), func(i int) bool { return half[i].Neighbor >= neighbor })
	hi = sort.Search(len(half), func(i int) bool { return half[i].Neighbor > neighbor })
	return lo, hi
}

// Match is one neighborship found by Find, tagged with the half it came from.
type Match struct {
	Role Role
	Neighborship
}

// Find looks up neighbor (and, if edge != nil, the exact (neighbor, edge)
// pair) within the half(s) Role selects. For Role Any, both halves are
// searched and results are reported with their owning Role.
//
// Without an explicit edge id, Find returns the equal-range of every
// neighborship matching neighbor (spec.md §4.1: "returns the equal-range
// over matching neighbors").
func Find(v View, r Role, neighbor int64, edge *int64) []Match {
	var matches []Match
	search := func(half []Neighborship, owner Role) {
		lo, hi := equalRange(half, neighbor)
		for _, n := range half[lo:hi] {
			if edge != nil && n.Edge != *edge {
				continue
			}
			matches = append(matches, Match{Role: owner, Neighborship: n})
		}
	}
	switch r {
	case Source:
		search(v.Out, Source)
	case Target:
		search(v.In, Target)
	case Any:
		search(v.Out, Source)
		search(v.In, Target)
	default:
		panic(fmt.Sprintf("adjacency: unknown role %d", r))
	}
	return matches
}

// Contains reports whether (neighbor, edge) is already present in half, a
// single sorted half of a record (unlike Find, it takes no Role and has no
// Any fan-out).
func Contains(half []Neighborship, n Neighborship) bool {
	lo, hi := equalRange(half, n.Neighbor)
	idx := sort.Search(hi-lo, func(i int) bool { return half[lo+i].Edge >= n.Edge })
	return lo+idx < hi && half[lo+idx].Edge == n.Edge
}

// InsertionPoint returns the index at which n must be spliced into half to
// preserve (neighbor_id, edge_id) order, and whether n is already present
// (in which case InsertionPoint is a no-op location, per I4).
func InsertionPoint(half []Neighborship, n Neighborship) (idx int, present bool) {
	lo, hi := equalRange(half, n.Neighbor)
	off := sort.Search(hi-lo, func(i int) bool { return half[lo+i].Edge >= n.Edge })
	idx = lo + off
	present = idx < hi && half[idx].Edge == n.Edge
	return idx, present
}

// Insert splices n into half at its sorted position. It is a no-op (I4) if
// n is already present, and then returns half itself. When it does insert,
// it returns a fresh slice; it never mutates half's backing array in place,
// so callers holding other views over the same backing array are unaffected.
func Insert(half []Neighborship, n Neighborship) []Neighborship {
	idx, present := InsertionPoint(half, n)
	if present {
		return half
	}
	out := make([]Neighborship, len(half)+1)
	copy(out, half[:idx])
	out[idx] = n
	copy(out[idx+1:], half[idx:])
	return out
}

// Remove deletes every entry in half matching neighbor (and, if edge !=
// nil, the exact pair). A nil edge removes the entire equal-range for
// neighbor — spec.md §9's confirmed multi-graph removal semantics.
func Remove(half []Neighborship, neighbor int64, edge *int64) []Neighborship {
	lo, hi := equalRange(half, neighbor)
	if lo == hi {
		return half
	}
	if edge == nil {
		out := make([]Neighborship, 0, len(half)-(hi-lo))
		out = append(out, half[:lo]...)
		out = append(out, half[hi:]...)
		return out
	}
	idx := sort.Search(hi-lo, func(i int) bool { return half[lo+i].Edge >= *edge })
	idx += lo
	if idx >= hi || half[idx].Edge != *edge {
		return half
	}
	out := make([]Neighborship, 0, len(half)-1)
	out = append(out, half[:idx]...)
	out = append(out, half[idx+1:]...)
	return out
}

// SizeAfter reports the byte length a record would have after applying
// deltaOut/deltaIn net insertions, without constructing the new record.
// The graph package does not call it; its edge upsert sizes each merged
// half from the lengths of the existing and new neighborships.
func SizeAfter(v View, deltaOut, deltaIn int) int {
	return headerSize + (len(v.Out)+deltaOut)*neighborshipSize + (len(v.In)+deltaIn)*neighborshipSize
}

// IsSorted reports whether half is strictly increasing under
// (neighbor_id, edge_id) — property P2.
func IsSorted(half []Neighborship) bool {
	for i := 1; i < len(half); i++ {
		if !half[i-1].Less(half[i]) {
			return false
		}
	}
	return true
}
