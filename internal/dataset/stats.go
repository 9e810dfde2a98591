// Package dataset streams Parquet, CSV, and NDJSON rows into a graph or
// document collection, batching writes up to a caller-given byte budget
// before calling upsert_edges/assign, and the reverse for egress
// (spec.md §4.5).
package dataset

import "fmt"

// GraphMapping names the three row fields (source, target, and an
// optional edge id) that Ingress maps onto upsert_edges.
type GraphMapping struct {
	Source string
	Target string
	Edge   string // empty: every edge gets graph.EdgeIDDefault
}

// DocumentMapping names the row's id field and, optionally, a projection
// restricting which other fields are carried into the assembled document.
type DocumentMapping struct {
	ID         string
	Projection []string // nil: keep every field
}

// Stats is the supplemented per-call summary (SPEC_FULL.md §10) returned
// by every ingress/egress function.
type Stats struct {
	RowsRead       int
	RowsWritten    int
	BatchesFlushed int
	BytesFlushed   int64
}

func (s Stats) String() string {
	return fmt.Sprintf("rows_read=%d rows_written=%d batches=%d bytes=%d", s.RowsRead, s.RowsWritten, s.BatchesFlushed, s.BytesFlushed)
}

// rowByteSize approximates a decoded row's contribution to the byte
// budget from its encoded field values, avoiding a second marshal pass
// just to measure size.
func rowByteSize(fields map[string]interface{}) int {
	n := 0
	for k, v := range fields {
		n += len(k) + 16
		if s, ok := v.(string); ok {
			n += len(s)
		}
	}
	return n
}
