package dataset

import (
	"context"
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
)

const parquetParallelism = 4

// IngestParquetToGraph reads every row of a schemaless Parquet file at
// path and streams it into a graph collection the same way the NDJSON/CSV
// paths do, batching upsert_edges up to byteBudget.
func IngestParquetToGraph(ctx context.Context, path string, g *graph.Graph, mapping GraphMapping, byteBudget int) (Stats, error) {
	rows, err := readParquetRows(path)
	if err != nil {
		return Stats{}, err
	}
	batcher := newGraphBatcher(g, byteBudget, mapping)
	for _, row := range rows {
		if err := addGraphRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

// IngestParquetToDocuments reads every row of a schemaless Parquet file at
// path and assigns it as a document, batching up to byteBudget.
func IngestParquetToDocuments(ctx context.Context, path string, docs *document.Store, mapping DocumentMapping, byteBudget int) (Stats, error) {
	rows, err := readParquetRows(path)
	if err != nil {
		return Stats{}, err
	}
	batcher := newDocBatcher(docs, byteBudget)
	for _, row := range rows {
		if err := addDocumentRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

// readParquetRows decodes every row of path without a predefined Go
// struct schema, returning each as a field-name-keyed map the same shape
// IngestNDJSON/CSV produce.
func readParquetRows(path string) ([]map[string]interface{}, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %s", kvstore.ErrIO, path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("%w: parquet reader: %s", kvstore.ErrIO, err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	raw, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, fmt.Errorf("%w: parquet read: %s", kvstore.ErrIO, err)
	}

	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		row, ok := r.(map[string]interface{})
		if !ok {
			// The reader's schemaless mode is expected to yield a map per
			// row; re-marshal through JSON as a defensive fallback for any
			// other decoded shape.
			encoded, err := gojson.Marshal(r)
			if err != nil {
				return nil, fmt.Errorf("%w: unrecognized parquet row shape %T", kvstore.ErrInternal, r)
			}
			if err := gojson.Unmarshal(encoded, &row); err != nil {
				return nil, fmt.Errorf("%w: unrecognized parquet row shape %T", kvstore.ErrInternal, r)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parquetJSONSchema builds a xitongsys/parquet-go JSON schema string with
// one required INT64 field per name.
func parquetJSONSchema(int64Fields []string) string {
	type field struct {
		Tag string `json:"Tag"`
	}
	type schema struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}
	s := schema{Tag: "name=root, repetitiontype=REQUIRED"}
	for _, name := range int64Fields {
		s.Fields = append(s.Fields, field{Tag: fmt.Sprintf("name=%s, type=INT64, repetitiontype=REQUIRED", name)})
	}
	encoded, _ := gojson.Marshal(s)
	return string(encoded)
}

// ExportGraphEdgesToParquet writes every out-edge discovered from
// vertices as a (source, target, edge) row to a Parquet file at path.
func ExportGraphEdgesToParquet(ctx context.Context, path string, g *graph.Graph, vertices []kvstore.Key) (Stats, error) {
	var stats Stats
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return stats, fmt.Errorf("%w: create %s: %s", kvstore.ErrIO, path, err)
	}
	defer fw.Close()

	schema := parquetJSONSchema([]string{"source", "target", "edge"})
	pw, err := writer.NewJSONWriter(schema, fw, parquetParallelism)
	if err != nil {
		return stats, fmt.Errorf("%w: parquet writer: %s", kvstore.ErrIO, err)
	}

	roles := make([]adjacency.Role, len(vertices))
	for i := range roles {
		roles[i] = adjacency.Source
	}
	res, err := g.FindEdges(ctx, nil, vertices, roles)
	if err != nil {
		return stats, err
	}
	for i := range res.Center {
		record, err := gojson.Marshal(map[string]int64{
			"source": res.Center[i], "target": res.Neighbor[i], "edge": res.Edge[i],
		})
		if err != nil {
			return stats, err
		}
		if err := pw.Write(string(record)); err != nil {
			return stats, fmt.Errorf("%w: parquet write: %s", kvstore.ErrIO, err)
		}
		stats.RowsWritten++
	}
	if err := pw.WriteStop(); err != nil {
		return stats, fmt.Errorf("%w: parquet flush: %s", kvstore.ErrIO, err)
	}
	stats.BatchesFlushed = 1
	return stats, nil
}
