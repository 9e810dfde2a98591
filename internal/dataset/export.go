package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
)

// ExportDocumentsToNDJSON writes one JSON object per line for each key,
// skipping keys with no document.
func ExportDocumentsToNDJSON(ctx context.Context, w io.Writer, docs *document.Store, keys []kvstore.Key) (Stats, error) {
	var stats Stats
	bodies, found, err := docs.Read(ctx, nil, keys, nil)
	if err != nil {
		return stats, err
	}
	for i, body := range bodies {
		if !found[i] {
			continue
		}
		if _, err := w.Write(body); err != nil {
			return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		stats.RowsWritten++
		stats.BytesFlushed += int64(len(body))
	}
	stats.BatchesFlushed = 1
	return stats, nil
}

// ExportDocumentsToCSV writes a header row of columns followed by one row
// per key, extracting each column as a top-level field of the document
// (missing fields become empty cells).
func ExportDocumentsToCSV(ctx context.Context, w io.Writer, docs *document.Store, keys []kvstore.Key, columns []string) (Stats, error) {
	var stats Stats
	bodies, found, err := docs.Read(ctx, nil, keys, nil)
	if err != nil {
		return stats, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	for i, body := range bodies {
		if !found[i] {
			continue
		}
		var doc map[string]interface{}
		if err := gojson.Unmarshal(body, &doc); err != nil {
			return stats, fmt.Errorf("dataset: csv export: %w", err)
		}
		record := make([]string, len(columns))
		for c, col := range columns {
			if v, ok := doc[col]; ok {
				record[c] = stringify(v)
			}
		}
		if err := cw.Write(record); err != nil {
			return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		stats.RowsWritten++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	stats.BatchesFlushed = 1
	return stats, nil
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, _ := gojson.Marshal(x)
		return string(b)
	}
}

// ExportGraphEdgesToNDJSON writes one {"source":..,"target":..,"edge":..}
// object per out-edge discovered from vertices.
func ExportGraphEdgesToNDJSON(ctx context.Context, w io.Writer, g *graph.Graph, vertices []kvstore.Key) (Stats, error) {
	var stats Stats
	roles := make([]adjacency.Role, len(vertices))
	for i := range roles {
		roles[i] = adjacency.Source
	}
	res, err := g.FindEdges(ctx, nil, vertices, roles)
	if err != nil {
		return stats, err
	}
	for i := range res.Center {
		line, err := gojson.Marshal(map[string]int64{
			"source": res.Center[i],
			"target": res.Neighbor[i],
			"edge":   res.Edge[i],
		})
		if err != nil {
			return stats, err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		stats.RowsWritten++
	}
	stats.BatchesFlushed = 1
	return stats, nil
}

// ExportGraphEdgesToCSV writes a source,target,edge CSV of every out-edge
// discovered from vertices.
func ExportGraphEdgesToCSV(ctx context.Context, w io.Writer, g *graph.Graph, vertices []kvstore.Key) (Stats, error) {
	var stats Stats
	roles := make([]adjacency.Role, len(vertices))
	for i := range roles {
		roles[i] = adjacency.Source
	}
	res, err := g.FindEdges(ctx, nil, vertices, roles)
	if err != nil {
		return stats, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source", "target", "edge"}); err != nil {
		return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	for i := range res.Center {
		record := []string{
			fmt.Sprintf("%d", res.Center[i]),
			fmt.Sprintf("%d", res.Neighbor[i]),
			fmt.Sprintf("%d", res.Edge[i]),
		}
		if err := cw.Write(record); err != nil {
			return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		stats.RowsWritten++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	stats.BatchesFlushed = 1
	return stats, nil
}
