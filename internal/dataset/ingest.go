package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

func toKey(v interface{}) (kvstore.Key, error) {
	switch x := v.(type) {
	case float64:
		return kvstore.Key(int64(x)), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a valid key", kvstore.ErrInvalidArgument, x)
		}
		return kvstore.Key(n), nil
	case int64:
		return kvstore.Key(x), nil
	default:
		return 0, fmt.Errorf("%w: unsupported key field type %T", kvstore.ErrInvalidArgument, v)
	}
}

// graphBatcher accumulates (source, target, edge?) triples and flushes
// them to UpsertEdges once the byte budget is reached.
type graphBatcher struct {
	g          *graph.Graph
	byteBudget int
	sources    []kvstore.Key
	targets    []kvstore.Key
	edges      []kvstore.Key
	hasEdge    bool
	bytes      int
	stats      Stats
}

func newGraphBatcher(g *graph.Graph, byteBudget int, mapping GraphMapping) *graphBatcher {
	return &graphBatcher{g: g, byteBudget: byteBudget, hasEdge: mapping.Edge != ""}
}

func (b *graphBatcher) add(ctx context.Context, src, tgt kvstore.Key, edge kvstore.Key, rowBytes int) error {
	b.sources = append(b.sources, src)
	b.targets = append(b.targets, tgt)
	if b.hasEdge {
		b.edges = append(b.edges, edge)
	}
	b.bytes += rowBytes
	b.stats.RowsRead++
	if b.bytes >= b.byteBudget {
		return b.flush(ctx)
	}
	return nil
}

func (b *graphBatcher) flush(ctx context.Context) error {
	if len(b.sources) == 0 {
		return nil
	}
	var edges []kvstore.Key
	if b.hasEdge {
		edges = b.edges
	}
	if err := b.g.UpsertEdges(ctx, nil, b.sources, b.targets, edges); err != nil {
		logging.Errorf("dataset: flush %d graph rows failed: %v", len(b.sources), err)
		return err
	}
	logging.Debugf("dataset: flushed %d graph rows (%d bytes)", len(b.sources), b.bytes)
	b.stats.RowsWritten += len(b.sources)
	b.stats.BatchesFlushed++
	b.stats.BytesFlushed += int64(b.bytes)
	b.sources, b.targets, b.edges, b.bytes = nil, nil, nil, 0
	return nil
}

// docBatcher accumulates assembled JSON documents and flushes them to
// Assign once the byte budget is reached.
type docBatcher struct {
	docs       *document.Store
	byteBudget int
	keys       []kvstore.Key
	bodies     [][]byte
	bytes      int
	stats      Stats
}

func newDocBatcher(docs *document.Store, byteBudget int) *docBatcher {
	return &docBatcher{docs: docs, byteBudget: byteBudget}
}

func (b *docBatcher) add(ctx context.Context, key kvstore.Key, body []byte) error {
	b.keys = append(b.keys, key)
	b.bodies = append(b.bodies, body)
	b.bytes += len(body)
	b.stats.RowsRead++
	if b.bytes >= b.byteBudget {
		return b.flush(ctx)
	}
	return nil
}

func (b *docBatcher) flush(ctx context.Context) error {
	if len(b.keys) == 0 {
		return nil
	}
	if err := b.docs.Assign(ctx, nil, b.keys, b.bodies); err != nil {
		logging.Errorf("dataset: flush %d document rows failed: %v", len(b.keys), err)
		return err
	}
	logging.Debugf("dataset: flushed %d document rows (%d bytes)", len(b.keys), b.bytes)
	b.stats.RowsWritten += len(b.keys)
	b.stats.BatchesFlushed++
	b.stats.BytesFlushed += int64(b.bytes)
	b.keys, b.bodies, b.bytes = nil, nil, 0
	return nil
}

func projectFields(row map[string]interface{}, projection []string) map[string]interface{} {
	if projection == nil {
		return row
	}
	out := make(map[string]interface{}, len(projection))
	for _, f := range projection {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

// --- NDJSON ---

// IngestNDJSONToGraph streams newline-delimited JSON objects into a graph
// collection, batching upsert_edges calls up to byteBudget.
func IngestNDJSONToGraph(ctx context.Context, r io.Reader, g *graph.Graph, mapping GraphMapping, byteBudget int) (Stats, error) {
	batcher := newGraphBatcher(g, byteBudget, mapping)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := gojson.Unmarshal(line, &row); err != nil {
			return batcher.stats, fmt.Errorf("dataset: ndjson decode: %w", err)
		}
		if err := addGraphRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return batcher.stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

// IngestNDJSONToDocuments streams newline-delimited JSON objects into a
// document collection keyed by mapping.ID, batching assign calls up to
// byteBudget.
func IngestNDJSONToDocuments(ctx context.Context, r io.Reader, docs *document.Store, mapping DocumentMapping, byteBudget int) (Stats, error) {
	batcher := newDocBatcher(docs, byteBudget)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := gojson.Unmarshal(line, &row); err != nil {
			return batcher.stats, fmt.Errorf("dataset: ndjson decode: %w", err)
		}
		if err := addDocumentRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return batcher.stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

// --- CSV ---

// IngestCSVToGraph streams CSV rows (first row is the header) into a
// graph collection.
func IngestCSVToGraph(ctx context.Context, r io.Reader, g *graph.Graph, mapping GraphMapping, byteBudget int) (Stats, error) {
	batcher := newGraphBatcher(g, byteBudget, mapping)
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return batcher.stats, fmt.Errorf("%w: csv header: %s", kvstore.ErrIO, err)
	}
	index := headerIndex(header)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batcher.stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		row := recordToRow(header, index, record)
		if err := addGraphRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

// IngestCSVToDocuments streams CSV rows into a document collection.
func IngestCSVToDocuments(ctx context.Context, r io.Reader, docs *document.Store, mapping DocumentMapping, byteBudget int) (Stats, error) {
	batcher := newDocBatcher(docs, byteBudget)
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return batcher.stats, fmt.Errorf("%w: csv header: %s", kvstore.ErrIO, err)
	}
	index := headerIndex(header)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batcher.stats, fmt.Errorf("%w: %s", kvstore.ErrIO, err)
		}
		row := recordToRow(header, index, record)
		if err := addDocumentRow(ctx, batcher, row, mapping); err != nil {
			return batcher.stats, err
		}
	}
	if err := batcher.flush(ctx); err != nil {
		return batcher.stats, err
	}
	return batcher.stats, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return idx
}

func recordToRow(header []string, index map[string]int, record []string) map[string]interface{} {
	row := make(map[string]interface{}, len(header))
	for name, i := range index {
		if i < len(record) {
			row[name] = record[i]
		}
	}
	return row
}

// --- shared row handlers ---

func addGraphRow(ctx context.Context, batcher *graphBatcher, row map[string]interface{}, mapping GraphMapping) error {
	srcRaw, ok := row[mapping.Source]
	if !ok {
		return fmt.Errorf("%w: row missing source field %q", kvstore.ErrInvalidArgument, mapping.Source)
	}
	tgtRaw, ok := row[mapping.Target]
	if !ok {
		return fmt.Errorf("%w: row missing target field %q", kvstore.ErrInvalidArgument, mapping.Target)
	}
	src, err := toKey(srcRaw)
	if err != nil {
		return err
	}
	tgt, err := toKey(tgtRaw)
	if err != nil {
		return err
	}
	var edge kvstore.Key
	if mapping.Edge != "" {
		edgeRaw, ok := row[mapping.Edge]
		if ok {
			edge, err = toKey(edgeRaw)
			if err != nil {
				return err
			}
		} else {
			edge = kvstore.Key(graph.EdgeIDDefault)
		}
	}
	return batcher.add(ctx, src, tgt, edge, rowByteSize(row))
}

func addDocumentRow(ctx context.Context, batcher *docBatcher, row map[string]interface{}, mapping DocumentMapping) error {
	idRaw, ok := row[mapping.ID]
	if !ok {
		return fmt.Errorf("%w: row missing id field %q", kvstore.ErrInvalidArgument, mapping.ID)
	}
	key, err := toKey(idRaw)
	if err != nil {
		return err
	}
	projected := projectFields(row, mapping.Projection)
	body, err := gojson.Marshal(projected)
	if err != nil {
		return fmt.Errorf("dataset: assemble document: %w", err)
	}
	return batcher.add(ctx, key, body)
}
